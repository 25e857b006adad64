package chat

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"
)

// Snippet is a piece of editor context such as a selection or an open file.
type Snippet struct {
	Source    string
	Path      string
	StartLine int
	EndLine   int
	Content   string
}

// EditorContext gathers the snippets describing what the user is looking at.
type EditorContext interface {
	Snippets(ctx context.Context) ([]Snippet, error)
}

// EditorContextFunc adapts a function to EditorContext.
type EditorContextFunc func(ctx context.Context) ([]Snippet, error)

func (f EditorContextFunc) Snippets(ctx context.Context) ([]Snippet, error) {
	return f(ctx)
}

// Attachment references a file the user attached to a message.
type Attachment struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

// DisplayName returns the name, falling back to the base of the path.
func (a Attachment) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return filepath.Base(a.Path)
}

// Attachments reads attachment content. A non-empty skip reason means the
// attachment was deliberately left out of the prompt.
type Attachments interface {
	Read(ctx context.Context, a Attachment) (content string, skipReason string, err error)
}

// Credentials looks up configured secrets such as "openai.apiKey".
type Credentials interface {
	Lookup(key string) (string, bool)
}

// StaticCredentials is a map backed Credentials implementation.
type StaticCredentials map[string]string

func (c StaticCredentials) Lookup(key string) (string, bool) {
	v, ok := c[key]
	return v, ok && v != ""
}

// DefaultMaxAttachmentBytes bounds the size of an attachment read by FileAttachments.
const DefaultMaxAttachmentBytes = 64 * 1024

// FileAttachments reads attachments from the local file system, skipping
// files that are too large or look binary.
type FileAttachments struct {
	MaxBytes int64
}

func (f FileAttachments) Read(ctx context.Context, a Attachment) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxAttachmentBytes
	}

	info, err := os.Stat(a.Path)
	if err != nil {
		return "", "not readable", nil
	}
	if info.IsDir() {
		return "", "is a directory", nil
	}
	if info.Size() > limit {
		return "", fmt.Sprintf("larger than %d bytes", limit), nil
	}

	data, err := os.ReadFile(a.Path)
	if err != nil {
		return "", "not readable", nil
	}
	if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data) {
		return "", "binary file", nil
	}
	return string(data), "", nil
}
