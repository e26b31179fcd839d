package store

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	tempdesk "github.com/wolfeidau/tempdesk"
	"github.com/wolfeidau/tempdesk/notify"
)

const shortcutExt = ".url"

// IsURL reports whether text looks like a web address worth turning into a
// link entry. Only absolute http and https URLs qualify.
func IsURL(text string) bool {
	text = strings.TrimSpace(text)
	u, err := url.Parse(text)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// WriteURLShortcut creates an internet-shortcut entry for the given URL,
// named after the host with duplicate resolution. The file uses the
// standard INI shortcut format, so double-clicking opens the browser.
func (s *Store) WriteURLShortcut(rawURL string) (tempdesk.Entry, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return tempdesk.Entry{}, fmt.Errorf("writing shortcut: invalid URL %q", rawURL)
	}

	body := fmt.Sprintf("[InternetShortcut]\r\nURL=%s\r\nIconIndex=0\r\n", rawURL)

	entry, err := s.WriteEntry(shortcutName(u), []byte(body))
	if err != nil {
		return tempdesk.Entry{}, fmt.Errorf("writing shortcut: %w", err)
	}

	s.logger.Debug("created shortcut", "name", entry.Name, "url", rawURL)
	return entry, nil
}

// WriteEntry creates a new entry from in-memory content, with duplicate
// resolution and an atomic temp-then-rename write. Used for pasted text
// and link shortcuts.
func (s *Store) WriteEntry(name string, data []byte) (tempdesk.Entry, error) {
	if err := validName(name); err != nil {
		return tempdesk.Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name = resolveName(s.root, name)
	path := filepath.Join(s.root, name)

	tmpPath := filepath.Join(s.root, tmpPrefix+name)
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return tempdesk.Entry{}, fmt.Errorf("writing %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return tempdesk.Entry{}, fmt.Errorf("writing %s: %w", name, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return tempdesk.Entry{}, fmt.Errorf("writing %s: %w", name, err)
	}

	entry := tempdesk.Entry{
		Name:    name,
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Kind:    tempdesk.KindForName(name),
	}

	s.publish(notify.Event{Kind: notify.KindIngest, Name: name})
	return entry, nil
}

func shortcutName(u *url.URL) string {
	host := strings.TrimPrefix(u.Hostname(), "www.")
	if host == "" {
		host = "link"
	}
	return host + shortcutExt
}
