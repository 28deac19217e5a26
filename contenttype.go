package vfskit

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
)

// Common MIME types
const (
	MIMETypeOctetStream     = "application/octet-stream"
	MIMETypeTextPlain       = "text/plain"
	MIMETypeTextHTML        = "text/html"
	MIMETypeApplicationJSON = "application/json"
	MIMETypeApplicationXML  = "application/xml"
	MIMETypeApplicationPDF  = "application/pdf"
	MIMETypeApplicationZip  = "application/zip"
	MIMETypeDirectory       = "inode/directory"
)

var extensionToMIME = map[string]string{
	"txt":  MIMETypeTextPlain,
	"html": MIMETypeTextHTML,
	"htm":  MIMETypeTextHTML,
	"css":  "text/css",
	"js":   "text/javascript",
	"json": MIMETypeApplicationJSON,
	"xml":  MIMETypeApplicationXML,
	"csv":  "text/csv",
	"md":   "text/markdown",
	"yaml": "application/yaml",
	"yml":  "application/yaml",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
	"webp": "image/webp",
	"mp3":  "audio/mpeg",
	"ogg":  "audio/ogg",
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"pdf":  MIMETypeApplicationPDF,
	"zip":  MIMETypeApplicationZip,
	"jar":  "application/java-archive",
	"gz":   "application/gzip",
	"tgz":  "application/gzip",
	"bz2":  "application/x-bzip2",
	"zst":  "application/zstd",
	"tar":  "application/x-tar",
	"7z":   "application/x-7z-compressed",
	"rar":  "application/vnd.rar",
	"cbr":  "application/vnd.comicbook-rar",
	"ar":   "application/x-archive",
	"deb":  "application/vnd.debian.binary-package",
}

// GuessContentType determines a content type from a file name and, when the
// extension is unknown, from its leading bytes.
func GuessContentType(name string, head []byte) string {
	ext := strings.ToLower(ExtensionOf(name))
	if ct, ok := extensionToMIME[ext]; ok {
		return ct
	}
	if len(head) > 0 {
		return http.DetectContentType(head)
	}
	if ext != "" {
		if ct := mime.TypeByExtension("." + ext); ct != "" {
			return ct
		}
	}
	return MIMETypeOctetStream
}

// ContentType returns the content type of f, reading up to SniffLength
// bytes when the extension does not decide it. Directories report
// MIMETypeDirectory.
func ContentType(ctx context.Context, f File) (string, error) {
	if f.IsDir() {
		return MIMETypeDirectory, nil
	}
	if ct, ok := extensionToMIME[strings.ToLower(f.Extension())]; ok {
		return ct, nil
	}
	if !f.IsOperationSupported(OpRead) {
		return GuessContentType(f.Name(), nil), nil
	}
	rc, err := f.OpenReader(ctx, 0)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	head := make([]byte, SniffLength)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", err
	}
	return GuessContentType(f.Name(), head[:n]), nil
}

// IsTextContentType reports whether contentType denotes text.
func IsTextContentType(contentType string) bool {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(contentType)
	return strings.HasPrefix(contentType, "text/") ||
		contentType == MIMETypeApplicationJSON ||
		contentType == MIMETypeApplicationXML ||
		contentType == "application/yaml" ||
		contentType == "application/javascript"
}
