package vision

// Prompt is the fixed instruction sent alongside every image.
const Prompt = "Please provide a quick and brief response. Is this image a tick? Only answer with 'Yes', 'No', or 'Uncertain'"

// UploadedImage is the raw upload plus the media type the client declared for it.
type UploadedImage struct {
	Data      []byte
	MediaType string
}

// ClassificationResult carries the provider's answer verbatim. It is expected
// to be Yes, No or Uncertain but is not checked.
type ClassificationResult struct {
	Result string `json:"result"`
}
