package scoring

import (
	"fmt"
	"strings"
)

// PeerFile is the subset of a Soulseek file listing used for quality ranking.
type PeerFile struct {
	Filename   string
	BitDepth   int
	SampleRate int
	BitRate    int
}

// PeerQuality derives a human label and a rank from a peer's file listing.
// FLAC at 24 bit or better ranks highest; unknown formats rank lowest.
func PeerQuality(f PeerFile) (string, int) {
	name := strings.ToLower(f.Filename)
	switch {
	case strings.HasSuffix(name, ".flac"):
		if f.BitDepth >= 24 {
			return fmt.Sprintf("FLAC %dbit/%dkHz", f.BitDepth, f.SampleRate/1000), 150
		}
		return "FLAC", 100
	case strings.HasSuffix(name, ".wav"):
		return "WAV", 95
	case strings.HasSuffix(name, ".mp3"):
		switch {
		case f.BitRate >= 320:
			return "MP3 320", 80
		case f.BitRate >= 256:
			return "MP3 256", 70
		case f.BitRate >= 192:
			return "MP3 192", 60
		}
		return fmt.Sprintf("MP3 %d", f.BitRate), 50
	case strings.HasSuffix(name, ".m4a"), strings.HasSuffix(name, ".aac"):
		if f.BitRate >= 256 {
			return "AAC 256", 75
		}
		return fmt.Sprintf("AAC %d", f.BitRate), 65
	case strings.HasSuffix(name, ".ogg"), strings.HasSuffix(name, ".opus"):
		return "OGG/Opus", 70
	}
	return "Unknown", 30
}
