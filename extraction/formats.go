package extraction

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Format enumerates supported filing payload formats.
type Format string

const (
	// FormatUnknown represents an unsupported or binary payload.
	FormatUnknown Format = ""
	// FormatSubmission is a full EDGAR submission text file with <DOCUMENT> segments.
	FormatSubmission Format = "submission"
	// FormatHTML represents HTML or inline XBRL documents.
	FormatHTML Format = "html"
	// FormatText represents plain text documents.
	FormatText Format = "text"
	// FormatPDF represents PDF documents.
	FormatPDF Format = "pdf"
)

var binaryExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".gif": true, ".png": true,
	".zip": true, ".xls": true, ".xlsx": true,
	".xml": true, ".xsd": true, ".json": true,
}

// DetectFormat infers a payload format from the file name and its leading bytes.
// Content sniffing wins over the extension for .txt files since EDGAR serves
// full submissions with that extension.
func DetectFormat(name string, data []byte) Format {
	ext := strings.ToLower(filepath.Ext(name))
	if binaryExtensions[ext] {
		return FormatUnknown
	}

	head := data
	if len(head) > 4096 {
		head = head[:4096]
	}
	trimmed := bytes.TrimSpace(head)

	switch {
	case bytes.HasPrefix(trimmed, []byte("%PDF-")):
		return FormatPDF
	case bytes.Contains(head, []byte("<SEC-DOCUMENT>")),
		bytes.Contains(head, []byte("<SEC-HEADER>")),
		bytes.Contains(head, []byte("<DOCUMENT>")):
		return FormatSubmission
	}

	switch ext {
	case ".htm", ".html", ".xhtml":
		return FormatHTML
	case ".pdf":
		return FormatPDF
	}

	if looksLikeHTML(head) {
		return FormatHTML
	}
	if len(trimmed) == 0 || !isMostlyText(head) {
		return FormatUnknown
	}
	return FormatText
}

func looksLikeHTML(head []byte) bool {
	lower := bytes.ToLower(head)
	for _, marker := range []string{"<!doctype html", "<html", "<body", "<div", "<p>", "<p ", "<table"} {
		if bytes.Contains(lower, []byte(marker)) {
			return true
		}
	}
	return false
}

func isMostlyText(head []byte) bool {
	if len(head) == 0 {
		return false
	}
	control := 0
	for _, b := range head {
		if b == 0 {
			return false
		}
		if b < 0x09 || (b > 0x0d && b < 0x20) {
			control++
		}
	}
	return control*20 < len(head)
}
