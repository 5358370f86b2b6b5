package security

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// scanWindow is how many leading bytes the content scan inspects.
const scanWindow = 1024

// executableMagics mark native or bytecode executables. CA FE BA BE covers
// both Java class files and Mach-O universal binaries.
var executableMagics = []struct {
	name  string
	magic []byte
}{
	{"PE executable", []byte{0x4D, 0x5A}},
	{"ELF executable", []byte{0x7F, 0x45, 0x4C, 0x46}},
	{"Mach-O executable", []byte{0xFE, 0xED, 0xFA, 0xCE}},
	{"Mach-O executable", []byte{0xFE, 0xED, 0xFA, 0xCF}},
	{"Mach-O executable", []byte{0xCE, 0xFA, 0xED, 0xFE}},
	{"Mach-O executable", []byte{0xCF, 0xFA, 0xED, 0xFE}},
	{"Java class / Mach-O universal", []byte{0xCA, 0xFE, 0xBA, 0xBE}},
}

// scriptMarkers are matched case-insensitively anywhere in the window.
var scriptMarkers = []string{
	"<script",
	"javascript:",
	"onload=",
	"onerror=",
	"onclick=",
	"onmouseover=",
	"eval(",
	"document.write",
	"document.cookie",
	"window.location",
	"innerhtml",
}

// scriptExts are extensions whose content is legitimately script, so the
// script-marker check does not apply to them. The executable-magic and
// injection checks still do.
var scriptExts = map[string]bool{
	".js":  true,
	".mjs": true,
	".cjs": true,
}

// injectionMarkers catch template and server-side code injection.
var injectionMarkers = []string{
	"${",
	"{{",
	"<?php",
	"<%",
	"exec(",
	"system(",
	"shell_exec(",
	"passthru(",
	"include(",
	"require(",
}

// imageSignatures maps extensions to the leading bytes the real format
// starts with. SVG is textual and handled separately.
var imageSignatures = map[string][][]byte{
	".png":  {{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	".jpg":  {{0xFF, 0xD8, 0xFF}},
	".jpeg": {{0xFF, 0xD8, 0xFF}},
	".gif":  {[]byte("GIF87a"), []byte("GIF89a")},
}

// scanIssues reads the first scanWindow bytes and returns every problem
// found. An empty slice means the content passed.
func scanIssues(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return []string{fmt.Sprintf("cannot read file for scanning: %s", path)}
	}
	defer f.Close()

	// Fill the whole window even when the underlying reader returns short
	// reads. Files smaller than the window are fine (ErrUnexpectedEOF).
	buf := make([]byte, scanWindow)
	n, err := io.ReadFull(io.LimitReader(f, scanWindow), buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return []string{fmt.Sprintf("cannot read file for scanning: %s", path)}
	}
	head := buf[:n]

	var issues []string

	for _, em := range executableMagics {
		if bytes.HasPrefix(head, em.magic) {
			issues = append(issues, fmt.Sprintf("executable content detected (%s): %s", em.name, path))
			break
		}
	}

	ext := strings.ToLower(filepath.Ext(path))
	lower := strings.ToLower(string(head))
	if !scriptExts[ext] {
		for _, m := range scriptMarkers {
			if strings.Contains(lower, m) {
				issues = append(issues, fmt.Sprintf("script marker %q detected: %s", m, path))
				break
			}
		}
	}
	for _, m := range injectionMarkers {
		if strings.Contains(lower, m) {
			issues = append(issues, fmt.Sprintf("injection marker %q detected: %s", m, path))
			break
		}
	}

	if issue := checkImageSignature(path, head); issue != "" {
		issues = append(issues, issue)
	}
	return issues
}

// checkImageSignature cross-checks a recognized image extension against
// the true format signature, catching extension spoofing. Returns "" when
// the extension is not checked or the signature matches.
func checkImageSignature(path string, head []byte) string {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif":
		for _, sig := range imageSignatures[ext] {
			if bytes.HasPrefix(head, sig) {
				return ""
			}
		}
		return fmt.Sprintf("image signature mismatch for %s: %s", ext, path)
	case ".webp":
		if len(head) >= 12 && bytes.Equal(head[0:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP")) {
			return ""
		}
		return fmt.Sprintf("image signature mismatch for %s: %s", ext, path)
	case ".svg":
		trimmed := bytes.TrimLeft(head, " \t\r\n\xef\xbb\xbf")
		if bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.HasPrefix(trimmed, []byte("<svg")) {
			return ""
		}
		return fmt.Sprintf("image signature mismatch for %s: %s", ext, path)
	default:
		return ""
	}
}
