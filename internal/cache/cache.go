// Package cache implements a very trivial filesystem cache for directory
// snapshots, so a degraded upstream can be papered over with the last
// successful fetch.
package cache

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/dzbrowse/dzbrowse/internal/config"
)

// How long until a snapshot is considered stale. Matches the freshness
// window the refresh scheduler uses.
const maxSnapshotAge = time.Minute * 15

var (
	ErrCacheMiss = errors.New("cache miss error")
	errCacheSet  = errors.New("cache set error")
	errCacheDir  = errors.New("cache dir error")
)

type Cache interface {
	Get(variant ItemVariant) ([]byte, error)
	Set(variant ItemVariant, content []byte) error
}

type ItemVariant int

const (
	// SnapshotSteamList is the raw bulk listing from the secondary directory.
	SnapshotSteamList ItemVariant = iota
)

// Filesystem implements the default filesystem based Cache interface.
type Filesystem struct {
	cacheDir string
}

func New() (Filesystem, error) {
	cachePath := config.PathCache(config.CacheDirName)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		slog.Error("Failed to make cache root", slog.String("error", err.Error()),
			slog.String("path", cachePath))

		return Filesystem{}, errors.Join(err, errCacheDir)
	}

	return Filesystem{cacheDir: cachePath}, nil
}

func (c Filesystem) Set(variant ItemVariant, content []byte) error {
	file, errFile := os.Create(path.Join(c.cacheDir, cacheName(variant)))
	if errFile != nil {
		return errors.Join(errFile, errCacheSet)
	}

	defer func(file io.Closer) {
		if err := file.Close(); err != nil {
			slog.Error("Failed to close cache file", slog.String("error", err.Error()))
		}
	}(file)

	if _, err := file.Write(content); err != nil {
		return errors.Join(err, errCacheSet)
	}

	return nil
}

func (c Filesystem) Get(variant ItemVariant) ([]byte, error) {
	filePath := path.Join(c.cacheDir, cacheName(variant))

	file, errFile := os.Open(filePath)
	if errFile != nil {
		return nil, errors.Join(errFile, ErrCacheMiss)
	}

	stat, errStat := file.Stat()
	if errStat != nil {
		if err := file.Close(); err != nil {
			return nil, errors.Join(errStat, err, ErrCacheMiss)
		}

		return nil, errors.Join(errStat, ErrCacheMiss)
	}

	if time.Since(stat.ModTime()) > maxSnapshotAge {
		if err := file.Close(); err != nil {
			return nil, errors.Join(err, ErrCacheMiss)
		}

		if err := os.Remove(filePath); err != nil {
			return nil, errors.Join(err, ErrCacheMiss)
		}

		return nil, ErrCacheMiss
	}

	body, errRead := io.ReadAll(file)
	if errRead != nil {
		if err := file.Close(); err != nil {
			return nil, errors.Join(err, ErrCacheMiss)
		}

		return nil, errors.Join(errRead, ErrCacheMiss)
	}

	if err := file.Close(); err != nil {
		return nil, errors.Join(err, ErrCacheMiss)
	}

	return body, nil
}

func cacheName(variant ItemVariant) string {
	return "snapshot_" + strconv.Itoa(int(variant)) + ".json"
}
