package utils

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// SupportAudioExt checks if audio ext is supported
func SupportAudioExt(ext string) bool {
	return ext == ".wav" || ext == ".mp3" || ext == ".mp4" || ext == ".m4a" || ext == ".ogg"
}

var fileNameRegexp = regexp.MustCompile(`^[a-zA-Z0-9._\- ]+$`)

// MakeValidateFileName validates a user provided file name and
// joins it with an id based dir
func MakeValidateFileName(id, name string) (string, error) {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("empty file name")
	}
	if !fileNameRegexp.MatchString(base) {
		return "", fmt.Errorf("wrong symbols in file name '%s'", name)
	}
	return MakeFileName(id, base), nil
}

// MakeFileName joins id and name into the storage path
func MakeFileName(id, name string) string {
	if id == "" {
		return name
	}
	return id + "/" + name
}

// ParamTrue - returns true if string param indicates true value
func ParamTrue(prm string) bool {
	return strings.ToLower(prm) == "true" || prm == "1"
}
