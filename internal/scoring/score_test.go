package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_Base(t *testing.T) {
	assert.Equal(t, Base, Score(Signals{Title: "Song", Channel: "Someone"}))
}

func TestScore_LexicalPenalties(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		channel string
	}{
		{"live", "Artist - Song", "Artist"},
		{"cover", "Artist - Song", "Artist"},
		{"plain channel", "Song", "Uploader"},
		{"official channel", "Song (Official Video)", "ArtistVEVO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plain := Score(Signals{Title: tt.title, Channel: tt.channel, Query: "artist - song", Duration: 200, Views: 50_000})
			live := Score(Signals{Title: tt.title + " Live", Channel: tt.channel, Query: "artist - song", Duration: 200, Views: 50_000})
			cover := Score(Signals{Title: tt.title + " (Cover)", Channel: tt.channel, Query: "artist - song", Duration: 200, Views: 50_000})
			assert.Less(t, live, plain)
			assert.Less(t, cover, plain)
		})
	}
}

func TestScore_OfficialBonuses(t *testing.T) {
	plain := Score(Signals{Title: "Song", Channel: "Someone"})
	assert.Greater(t, Score(Signals{Title: "Song (Official Audio)", Channel: "Someone"}), plain)
	assert.Greater(t, Score(Signals{Title: "Song", Channel: "Artist - Topic"}), plain)
	assert.Greater(t, Score(Signals{Title: "Song", Channel: "ArtistVEVO Official"}), plain)
}

func TestScore_LosslessDominatesLexical(t *testing.T) {
	// Worst-case lossless channel and metadata against best-case untiered.
	lossless := Score(Signals{
		Title:    "Song",
		Channel:  "fan tribute cover",
		Query:    "nobody - song",
		Duration: 2000,
		Tier:     TierLossless,
	})
	untiered := Score(Signals{
		Title:    "Song",
		Channel:  "Official Song - Topic",
		Query:    "nobody - song",
		Duration: 200,
		Views:    20_000_000,
	})
	assert.Greater(t, lossless, untiered)

	hiRes := Score(Signals{Title: "Song", Channel: "x", Tier: TierHiResLossless})
	assert.Greater(t, hiRes, Score(Signals{Title: "Song", Channel: "x", Tier: TierLossless}))
}

func TestScore_QueryTerms(t *testing.T) {
	match := Score(Signals{Title: "Daft Punk - Around the World", Channel: "Daft Punk", Query: "Daft Punk - Around the World"})
	miss := Score(Signals{Title: "Something Else Entirely", Channel: "Other", Query: "Daft Punk - Around the World"})
	assert.Greater(t, match, miss)

	noQuery := Score(Signals{Title: "Something Else Entirely", Channel: "Other"})
	assert.Equal(t, Base, noQuery, "empty query skips query terms")
}

func TestScore_DurationAndViews(t *testing.T) {
	tests := []struct {
		name     string
		duration int
		views    int64
		want     int
	}{
		{"zero skips both", 0, 0, Base},
		{"clip", 20, 0, Base - 40},
		{"snippet", 60, 0, Base - 15},
		{"sweet spot", 200, 0, Base + 10},
		{"long track", 600, 0, Base},
		{"extended", 1000, 0, Base - 20},
		{"blob", 3600, 0, Base - 40},
		{"low views", 0, 500, Base - 10},
		{"mid views", 0, 50_000, Base},
		{"popular", 0, 200_000, Base + 5},
		{"viral", 0, 50_000_000, Base + 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(Signals{Title: "Song", Channel: "x", Duration: tt.duration, Views: tt.views}))
		})
	}
}

func TestScore_PopularityCapped(t *testing.T) {
	assert.Equal(t, Base+5, Score(Signals{Title: "Song", Channel: "x", Popularity: 55}))
	assert.Equal(t, Base+15, Score(Signals{Title: "Song", Channel: "x", Popularity: 100}))
}

func TestSplitQuery(t *testing.T) {
	a, title, ok := SplitQuery("Artist – Title - Part 2")
	assert.True(t, ok)
	assert.Equal(t, "Artist – Title", a)
	assert.Equal(t, "Part 2", title)

	_, _, ok = SplitQuery("no separator here")
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "song title", Normalize("  Song (Official Video) Title!! "))
}

func TestPeerQuality(t *testing.T) {
	tests := []struct {
		file  PeerFile
		label string
		rank  int
	}{
		{PeerFile{Filename: `a\b.FLAC`, BitDepth: 24, SampleRate: 96000}, "FLAC 24bit/96kHz", 150},
		{PeerFile{Filename: "b.flac", BitDepth: 16}, "FLAC", 100},
		{PeerFile{Filename: "b.wav"}, "WAV", 95},
		{PeerFile{Filename: "b.mp3", BitRate: 320}, "MP3 320", 80},
		{PeerFile{Filename: "b.mp3", BitRate: 256}, "MP3 256", 70},
		{PeerFile{Filename: "b.mp3", BitRate: 192}, "MP3 192", 60},
		{PeerFile{Filename: "b.mp3", BitRate: 128}, "MP3 128", 50},
		{PeerFile{Filename: "b.m4a", BitRate: 256}, "AAC 256", 75},
		{PeerFile{Filename: "b.aac", BitRate: 128}, "AAC 128", 65},
		{PeerFile{Filename: "b.opus"}, "OGG/Opus", 70},
		{PeerFile{Filename: "b.wma"}, "Unknown", 30},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			label, rank := PeerQuality(tt.file)
			assert.Equal(t, tt.label, label)
			assert.Equal(t, tt.rank, rank)
		})
	}
}
