package protocol

// Metadata and trailer keys shared by client and server
const (
	SessionTokenKey   = "x-session-token"
	RetryAfterTrailer = "retry-after-ms"
)

// Error reasons carried in status messages
const (
	ReasonFloodWait          = "FLOOD_WAIT"
	ReasonFileReferenceStale = "FILE_REFERENCE_EXPIRED"
	ReasonFileMigrate        = "FILE_MIGRATE"
	ReasonAuthKeyInvalid     = "AUTH_KEY_UNREGISTERED"
	ReasonFileIDInvalid      = "FILE_ID_INVALID"
	ReasonMessageNotFound    = "MESSAGE_ID_INVALID"
)

type AuthorizeRequest struct {
	DatacenterID int32  `json:"dc_id"`
	APIToken     string `json:"api_token"`
}

type AuthorizeResponse struct {
	DatacenterID int32  `json:"dc_id"`
	SessionToken string `json:"session_token"`
}

type ImportAuthorizationRequest struct {
	DatacenterID int32  `json:"dc_id"`
	Credential   []byte `json:"credential"`
}

type ExportAuthorizationRequest struct {
	DatacenterID int32 `json:"dc_id"`
}

type ExportAuthorizationResponse struct {
	DatacenterID int32  `json:"dc_id"`
	Credential   []byte `json:"credential"`
}

type GetMessageRequest struct {
	MessageID int64 `json:"message_id"`
}

type GetMessageResponse struct {
	MessageID int64  `json:"message_id"`
	Date      int64  `json:"date"`
	Media     *Media `json:"media,omitempty"`
}

// Media is the media payload of a message
type Media struct {
	Kind          string `json:"kind"`
	FileID        string `json:"file_id"`
	FileReference []byte `json:"file_reference"`
	FileName      string `json:"file_name,omitempty"`
	MimeType      string `json:"mime_type,omitempty"`
	FileSize      int64  `json:"file_size"`

	DurationSeconds int32  `json:"duration,omitempty"`
	Width           int32  `json:"width,omitempty"`
	Height          int32  `json:"height,omitempty"`
	Performer       string `json:"performer,omitempty"`
	Title           string `json:"title,omitempty"`
}

// FileLocation addresses a media file on its home datacenter
type FileLocation struct {
	MediaID       int64  `json:"id"`
	AccessHash    int64  `json:"access_hash"`
	FileReference []byte `json:"file_reference"`
}

type GetFileRequest struct {
	Location FileLocation `json:"location"`
	Offset   int64        `json:"offset"`
	Limit    int64        `json:"limit"`
}

type GetFileResponse struct {
	Bytes []byte `json:"bytes"`
}
