package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedUploadName is returned when an upload filename does not carry
// the "token:handler:...:name" prefix.
var ErrMalformedUploadName = errors.New("malformed upload filename")

// UploadFile is a single uploaded blob.
type UploadFile struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"-"`
}

// UploadTarget is the token and handler path encoded in the first upload
// filename.
type UploadTarget struct {
	Token   string
	Handler string
}

// ParseUploadNames extracts the upload target from the first file and
// strips every filename down to its final colon-delimited segment. The
// files slice is modified in place.
func ParseUploadNames(files []UploadFile) (UploadTarget, error) {
	if len(files) == 0 {
		return UploadTarget{}, fmt.Errorf("%w: no files", ErrMalformedUploadName)
	}

	parts := strings.Split(files[0].Filename, ":")
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" {
		return UploadTarget{}, fmt.Errorf("%w: %q", ErrMalformedUploadName, files[0].Filename)
	}
	target := UploadTarget{Token: parts[0], Handler: parts[1]}

	for i := range files {
		name := files[i].Filename
		if idx := strings.LastIndex(name, ":"); idx >= 0 {
			name = name[idx+1:]
		}
		files[i].Filename = name
	}
	return target, nil
}
