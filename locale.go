package main

import (
	"embed"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lang/*.yaml
var langFS embed.FS

const defaultLocale = "en_US"

type Locale struct {
	translations map[string]string
	locale       string
}

var globalLocale *Locale

// InitLocale loads the translations for the system locale, falling back to
// English.
func InitLocale() error {
	locale := DetectSystemLocale()

	l, err := LoadLocale(locale)
	if err != nil {
		l, err = LoadLocale(defaultLocale)
		if err != nil {
			return fmt.Errorf("failed to load fallback locale %s: %w", defaultLocale, err)
		}
	}

	globalLocale = l
	return nil
}

// DetectSystemLocale reads LANG, LC_ALL and LC_MESSAGES in that order.
// "zh_CN.UTF-8" becomes "zh_CN".
func DetectSystemLocale() string {
	for _, env := range []string{"LANG", "LC_ALL", "LC_MESSAGES"} {
		value := os.Getenv(env)
		if value == "" {
			continue
		}
		if name := strings.Split(value, ".")[0]; name != "" && name != "C" && name != "POSIX" {
			return name
		}
	}
	return defaultLocale
}

// LoadLocale loads lang/<locale>.yaml. A locale with no exact file uses any
// file for the same language, so zh_TW gets zh_CN.
func LoadLocale(locale string) (*Locale, error) {
	file := path.Join("lang", locale+".yaml")
	data, err := langFS.ReadFile(file)
	if err != nil {
		lang := strings.Split(locale, "_")[0]
		entries, dirErr := langFS.ReadDir("lang")
		if dirErr != nil {
			return nil, dirErr
		}
		for _, entry := range entries {
			if strings.HasPrefix(entry.Name(), lang+"_") {
				locale = strings.TrimSuffix(entry.Name(), ".yaml")
				file = path.Join("lang", entry.Name())
				data, err = langFS.ReadFile(file)
				break
			}
		}
		if err != nil {
			return nil, fmt.Errorf("no translations for locale %s: %w", locale, err)
		}
	}

	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse locale file %s: %w", file, err)
	}

	return &Locale{
		translations: translations,
		locale:       locale,
	}, nil
}

// T translates key, formatting params into it fmt.Sprintf style. Unknown keys
// come back unchanged.
func T(key string, params ...interface{}) string {
	if globalLocale == nil {
		return key
	}

	translation, ok := globalLocale.translations[key]
	if !ok {
		return key
	}

	if len(params) > 0 {
		return fmt.Sprintf(translation, params...)
	}

	return translation
}

// GetLocale returns the active locale code.
func GetLocale() string {
	if globalLocale == nil {
		return defaultLocale
	}
	return globalLocale.locale
}
