package media

import (
	"context"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"
	"github.com/pkg/errors"
)

// Tags is the metadata written into a finished file.
type Tags struct {
	Artist      string
	Title       string
	Album       string
	Year        string
	TrackNumber int
	ISRC        string
	Cover       []byte
}

var brandingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^Provided to YouTube by `),
	regexp.MustCompile(`(?i)^Auto-generated by YouTube`),
	regexp.MustCompile(`^℗\s*\d{4}`),
	regexp.MustCompile(`^Released on:\s`),
}

// IsSourceBranding reports whether a comment is distributor boilerplate
// that yt-dlp copies from the video description.
func IsSourceBranding(text string) bool {
	t := strings.TrimSpace(text)
	for _, re := range brandingPatterns {
		if re.MatchString(t) {
			return true
		}
	}
	return false
}

// WriteTags writes tags using the container's native format: vorbis comments
// for FLAC, ID3v2 for MP3, and an ffmpeg remux for everything else.
func (t *Tools) WriteTags(ctx context.Context, path string, tags Tags) error {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".flac":
		err = writeFLAC(path, tags)
	case ".mp3":
		err = writeID3(path, tags)
	default:
		err = t.remux(ctx, path, tags)
	}
	if err != nil {
		return errors.Wrapf(err, "tag %s", filepath.Base(path))
	}
	return nil
}

func writeFLAC(path string, tags Tags) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return errors.Wrap(err, "parse flac")
	}

	var cmts *flacvorbis.MetaDataBlockVorbisComment
	cmtIdx := -1
	hasPicture := false
	for i, meta := range f.Meta {
		switch meta.Type {
		case flac.VorbisComment:
			cmts, err = flacvorbis.ParseFromMetaDataBlock(*meta)
			if err != nil {
				return errors.Wrap(err, "parse vorbis comment")
			}
			cmtIdx = i
		case flac.Picture:
			hasPicture = true
		}
	}
	if cmts == nil {
		cmts = flacvorbis.New()
	}

	set := map[string]string{
		flacvorbis.FIELD_ARTIST: tags.Artist,
		flacvorbis.FIELD_TITLE:  tags.Title,
	}
	if tags.Album != "" {
		set[flacvorbis.FIELD_ALBUM] = tags.Album
	}
	if tags.Year != "" {
		set[flacvorbis.FIELD_DATE] = tags.Year
	}
	if tags.TrackNumber > 0 {
		set[flacvorbis.FIELD_TRACKNUMBER] = strconv.Itoa(tags.TrackNumber)
	}
	if tags.ISRC != "" {
		set[flacvorbis.FIELD_ISRC] = tags.ISRC
	}
	cmts.Comments = mergeVorbis(cmts.Comments, set)

	block := cmts.Marshal()
	if cmtIdx >= 0 {
		f.Meta[cmtIdx] = &block
	} else {
		f.Meta = append(f.Meta, &block)
	}

	if len(tags.Cover) > 0 && !hasPicture {
		pic, err := flacpicture.NewFromImageData(flacpicture.PictureTypeFrontCover, "Front cover", tags.Cover, "image/jpeg")
		if err != nil {
			return errors.Wrap(err, "build cover")
		}
		picBlock := pic.Marshal()
		f.Meta = append(f.Meta, &picBlock)
	}
	return errors.Wrap(f.Save(path), "save flac")
}

// mergeVorbis replaces the given fields and drops branded COMMENT entries.
func mergeVorbis(existing []string, set map[string]string) []string {
	out := make([]string, 0, len(existing)+len(set))
	for _, c := range existing {
		key, value, _ := strings.Cut(c, "=")
		key = strings.ToUpper(key)
		if _, replaced := set[key]; replaced {
			continue
		}
		if (key == "COMMENT" || key == "DESCRIPTION") && IsSourceBranding(value) {
			continue
		}
		out = append(out, c)
	}
	for _, key := range []string{
		flacvorbis.FIELD_ARTIST, flacvorbis.FIELD_TITLE, flacvorbis.FIELD_ALBUM,
		flacvorbis.FIELD_DATE, flacvorbis.FIELD_TRACKNUMBER, flacvorbis.FIELD_ISRC,
	} {
		if v, ok := set[key]; ok {
			out = append(out, key+"="+v)
		}
	}
	return out
}

func writeID3(path string, tags Tags) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return errors.Wrap(err, "open id3")
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetArtist(tags.Artist)
	tag.SetTitle(tags.Title)
	if tags.Album != "" {
		tag.SetAlbum(tags.Album)
	}
	if tags.Year != "" {
		tag.SetYear(tags.Year)
	}
	if tags.TrackNumber > 0 {
		tag.AddTextFrame(tag.CommonID("Track number/Position in set"), id3v2.EncodingUTF8, strconv.Itoa(tags.TrackNumber))
	}

	commentID := tag.CommonID("Comments")
	for _, f := range tag.GetFrames(commentID) {
		if cf, ok := f.(id3v2.CommentFrame); ok && IsSourceBranding(cf.Text) {
			tag.DeleteFrames(commentID)
			break
		}
	}

	if len(tags.Cover) > 0 && len(tag.GetFrames(tag.CommonID("Attached picture"))) == 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    "image/jpeg",
			PictureType: id3v2.PTFrontCover,
			Description: "Front cover",
			Picture:     tags.Cover,
		})
	}
	return errors.Wrap(tag.Save(), "save id3")
}
