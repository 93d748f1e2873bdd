package settings

// Kind is the value type of a runtime setting.
type Kind string

const (
	KindString Kind = "str"
	KindBool   Kind = "bool"
	KindInt    Kind = "int"
)

// Field describes one runtime setting.
type Field struct {
	Kind      Kind
	Default   any
	Sensitive bool
}

// Schema lists every runtime setting the service reads.
var Schema = map[string]Field{
	"music_dir":               {KindString, "/music", false},
	"enable_musicbrainz":      {KindBool, true, false},
	"enable_lyrics":           {KindBool, true, false},
	"default_convert_to_flac": {KindBool, true, false},
	"audio_format":            {KindString, "flac", false},
	"min_audio_bitrate":       {KindInt, 0, false},
	"singles_subdir":          {KindString, "Singles", false},
	"playlists_subdir":        {KindString, "", false},
	"albums_subdir":           {KindString, "Albums", false},
	"organise_by_artist":      {KindBool, true, false},

	"slskd_url":            {KindString, "", false},
	"slskd_user":           {KindString, "", false},
	"slskd_pass":           {KindString, "", true},
	"slskd_downloads_path": {KindString, "", false},

	"slskd_require_free_slot": {KindBool, true, false},

	"monochrome_api_url": {KindString, "https://api.monochrome.tf", false},
	"acoustid_api_key":   {KindString, "0NILMQojj4", false},

	"navidrome_url":    {KindString, "", false},
	"navidrome_user":   {KindString, "", false},
	"navidrome_pass":   {KindString, "", true},
	"jellyfin_url":     {KindString, "", false},
	"jellyfin_api_key": {KindString, "", true},

	"notify_on":            {KindString, "playlists,bulk,errors", false},
	"telegram_webhook_url": {KindString, "", true},
	"smtp_host":            {KindString, "", false},
	"smtp_port":            {KindInt, 587, false},
	"smtp_user":            {KindString, "", false},
	"smtp_pass":            {KindString, "", true},
	"smtp_from":            {KindString, "", false},
	"smtp_to":              {KindString, "", false},
	"smtp_tls":             {KindBool, true, false},
	"webhook_url":          {KindString, "", false},

	"youtube_cookies":         {KindString, "", true},
	"youtube_bot_backoff_min": {KindInt, 5, false},
	"youtube_bot_backoff_max": {KindInt, 20, false},
	"ytdlp_player_client":     {KindString, "", false},

	"api_key": {KindString, "", true},
}

// Sensitive reports whether key must be masked when displayed.
func Sensitive(key string) bool {
	return Schema[key].Sensitive
}
