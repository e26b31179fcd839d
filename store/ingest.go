package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	tempdesk "github.com/wolfeidau/tempdesk"
	"github.com/wolfeidau/tempdesk/notify"
)

const copyChunkSize = 1 << 20

// Ingest brings an external file into the store under its base name, with
// duplicate-name resolution. ModeMove removes the source on success,
// ModeCopy leaves it in place. A cross-device move falls back to
// copy-verify-remove; if the final source removal fails the copied
// destination is rolled back so the operation reports failure without a
// partial mutation.
func (s *Store) Ingest(ctx context.Context, source string, mode Mode) (tempdesk.Entry, error) {
	info, err := os.Stat(source)
	if err != nil {
		if os.IsNotExist(err) {
			return tempdesk.Entry{}, fmt.Errorf("ingesting %s: %w", source, ErrNotFound)
		}
		if os.IsPermission(err) {
			return tempdesk.Entry{}, fmt.Errorf("ingesting %s: %w", source, ErrPermissionDenied)
		}
		return tempdesk.Entry{}, fmt.Errorf("ingesting %s: %w", source, err)
	}
	if !info.Mode().IsRegular() {
		return tempdesk.Entry{}, fmt.Errorf("ingesting %s: not a regular file", source)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := resolveName(s.root, ingestName(source))
	dest := filepath.Join(s.root, name)

	switch mode {
	case ModeMove:
		err = s.moveLocked(ctx, source, dest)
	case ModeCopy:
		err = s.copyVerify(ctx, source, dest)
	default:
		return tempdesk.Entry{}, fmt.Errorf("ingesting %s: unknown mode %q", source, mode)
	}
	if err != nil {
		return tempdesk.Entry{}, err
	}

	destInfo, err := os.Stat(dest)
	if err != nil {
		return tempdesk.Entry{}, fmt.Errorf("ingesting %s: %w", source, err)
	}

	entry := tempdesk.Entry{
		Name:    name,
		Path:    dest,
		Size:    destInfo.Size(),
		ModTime: destInfo.ModTime(),
		Kind:    tempdesk.KindForName(name),
	}

	s.logger.Debug("ingested entry", "name", name, "source", source, "mode", mode, "size", entry.Size)
	s.record(ctx, entry, source, mode)
	s.publish(notify.Event{Kind: notify.KindIngest, Name: name})

	return entry, nil
}

// ingestName derives the managed name for an external source. Leading dots
// are stripped so the entry shows up in the listing instead of becoming an
// invisible dotfile.
func ingestName(source string) string {
	name := strings.TrimLeft(filepath.Base(source), ".")
	if name == "" {
		name = "file"
	}
	return name
}

func (s *Store) moveLocked(ctx context.Context, source, dest string) error {
	// Fast path for same-filesystem moves.
	if err := os.Rename(source, dest); err == nil {
		return nil
	}

	if err := s.copyVerify(ctx, source, dest); err != nil {
		return err
	}
	if err := os.Remove(source); err != nil {
		// Roll back so a failed move mutates nothing.
		if rmErr := os.Remove(dest); rmErr != nil {
			s.logger.Warn("could not roll back failed move", "dest", dest, "error", rmErr)
		}
		if os.IsPermission(err) {
			return fmt.Errorf("removing moved source %s: %w", source, ErrPermissionDenied)
		}
		return fmt.Errorf("removing moved source %s: %w", source, err)
	}
	return nil
}

// copyVerify streams source into a temp file in the destination folder,
// hashing as it goes, re-hashes the written bytes and compares digests
// before the atomic rename into place. The temp file is removed on any
// failure.
func (s *Store) copyVerify(ctx context.Context, source, dest string) (err error) {
	in, err := os.Open(source)
	if err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("opening %s: %w", source, ErrPermissionDenied)
		}
		return fmt.Errorf("opening %s: %w", source, err)
	}
	defer in.Close()

	tmpPath := filepath.Join(filepath.Dir(dest), tmpPrefix+uuid.NewString())
	out, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(tmpPath)
		}
	}()

	hr := tempdesk.NewHashingReader(in)
	if err = copyContext(ctx, out, hr); err != nil {
		return fmt.Errorf("copying %s: %w", source, err)
	}
	if err = out.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}

	written, _, err := tempdesk.HashFile(tmpPath)
	if err != nil {
		return fmt.Errorf("verifying %s: %w", dest, err)
	}
	if want := hr.Sum(); written != want {
		err = fmt.Errorf("verifying %s: digest mismatch, read %s wrote %s", dest, want.ShortString(), written.ShortString())
		return err
	}

	if err = os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("finalizing %s: %w", dest, err)
	}
	return nil
}

// copyContext is io.Copy with a cancellation check per chunk, so a large
// transfer stops promptly on shutdown.
func copyContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, copyChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
