package canned

import (
	"path/filepath"
	"strings"
)

// AcceptedExtensions are the document types the upload dialog offers.
var AcceptedExtensions = []string{".pdf", ".jpg", ".jpeg", ".png", ".doc", ".docx", ".xls", ".xlsx"}

// IsAcceptedFile reports whether name has one of AcceptedExtensions.
func IsAcceptedFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range AcceptedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// FileType returns the lowercased extension of name without the dot.
func FileType(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// UploadMessage is the user turn recorded for an uploaded file.
func UploadMessage(name string) string {
	return "I've uploaded a " + FileType(name) + " file: " + name
}

// FileAcknowledgment picks the canned reply for an uploaded file. Only the
// file name is inspected; contents are never read.
func (r *Region) FileAcknowledgment(name string) string {
	lower := strings.ToLower(name)
	for _, ack := range r.FileAcks {
		for _, kw := range ack.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return ack.Response
			}
		}
	}
	return strings.ReplaceAll(r.DefaultFileAck, "{name}", name)
}
