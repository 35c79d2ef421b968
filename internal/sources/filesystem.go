package sources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/AlColeNS/search-expiscor-sub004/internal/common"
	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
)

// FilesystemDriver walks directory trees and emits one document per readable
// text file. Start locations are files or directories; traversal order is the
// deterministic lexical order of filepath.WalkDir.
type FilesystemDriver struct {
	config  *common.ExtractConfig
	docType string
	schema  *models.Schema
	rules   *Rules
	logger  arbor.ILogger
	stopped atomic.Bool
}

// NewFilesystemDriver creates a filesystem driver bound to the extract
// configuration and the document schema.
func NewFilesystemDriver(config *common.ExtractConfig, docType string, schema *models.Schema, logger arbor.ILogger) (*FilesystemDriver, error) {
	rules, err := CompileRules(config.FollowPatterns, config.IgnorePatterns)
	if err != nil {
		return nil, err
	}
	return &FilesystemDriver{
		config:  config,
		docType: docType,
		schema:  schema,
		rules:   rules,
		logger:  logger,
	}, nil
}

func (d *FilesystemDriver) Name() string { return "filesystem" }

// Validate verifies every start location exists before the crawl begins.
func (d *FilesystemDriver) Validate() error {
	if len(d.config.StartLocations) == 0 {
		return fmt.Errorf("filesystem driver has no start locations")
	}
	for _, location := range d.config.StartLocations {
		if _, err := os.Stat(location); err != nil {
			return fmt.Errorf("start location %s: %w", location, err)
		}
	}
	return nil
}

// Stop asks a running crawl to wind down at the next file boundary.
func (d *FilesystemDriver) Stop() {
	d.stopped.Store(true)
}

// Crawl walks every start location and emits the files the rules allow.
// Individual unreadable files are logged and skipped; the crawl continues.
func (d *FilesystemDriver) Crawl(ctx context.Context, opts CrawlOptions, emit EmitFunc) error {
	d.stopped.Store(false)

	count := 0
	for _, location := range d.config.StartLocations {
		err := filepath.WalkDir(location, func(path string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				d.logger.Warn().Str("path", path).Err(walkErr).Msg("Skipping unreadable path")
				if entry != nil && entry.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.stopped.Load() {
				return filepath.SkipAll
			}
			if err := ctx.Err(); err != nil {
				return filepath.SkipAll
			}
			if entry.IsDir() {
				return nil
			}
			if !d.rules.Allows(path) {
				return nil
			}
			if d.config.CrawlMaxPages > 0 && count >= d.config.CrawlMaxPages {
				return filepath.SkipAll
			}

			emitted, err := d.visitFile(ctx, path, entry, opts, emit)
			if err != nil {
				return err
			}
			if emitted {
				count++
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("walk of %s failed: %w", location, err)
		}
	}

	d.logger.Info().Int("documents", count).Msg("Filesystem crawl complete")
	return nil
}

// visitFile reads one file and emits it unless incremental change detection
// rules it out or the content is binary.
func (d *FilesystemDriver) visitFile(ctx context.Context, path string, entry fs.DirEntry, opts CrawlOptions, emit EmitFunc) (bool, error) {
	info, err := entry.Info()
	if err != nil {
		d.logger.Warn().Str("path", path).Err(err).Msg("Failed to stat file")
		return false, nil
	}

	id := path
	if opts.DocumentID != nil {
		id = opts.DocumentID(path)
	}

	// Cheap incremental pre-filter on modification time before reading.
	if opts.Incremental && !opts.Watermark.IsZero() && !info.ModTime().After(opts.Watermark) {
		return false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		d.logger.Warn().Str("path", path).Err(err).Msg("Failed to read file")
		return false, nil
	}
	if isBinary(data) {
		d.logger.Debug().Str("path", path).Msg("Skipping binary file")
		return false, nil
	}

	hash := sha256.Sum256(data)
	contentHash := hex.EncodeToString(hash[:])
	if opts.Incremental && opts.Changed != nil && !opts.Changed(id, info.ModTime(), contentHash) {
		return false, nil
	}

	doc := models.NewDocument(d.docType, d.schema)
	doc.Locator = path
	doc.LastModified = info.ModTime()
	doc.Options.IsContent = true
	if pk := d.schema.PrimaryKey(); pk != nil {
		doc.SetField(pk.Name, id)
	}
	doc.SetField("title", strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	doc.SetField("content", string(data))
	doc.SetField("url", "file://"+filepath.ToSlash(path))
	doc.SetField("last_modified", info.ModTime().UTC().Format(time.RFC3339))
	doc.Extra = map[string]string{"content_hash": contentHash}

	if err := emit(ctx, doc); err != nil {
		return false, err
	}
	return true, nil
}

// isBinary sniffs the leading bytes; anything that does not resolve to a
// text-like content type is treated as binary.
func isBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	contentType := http.DetectContentType(data)
	return !strings.HasPrefix(contentType, "text/") &&
		!strings.Contains(contentType, "json") &&
		!strings.Contains(contentType, "xml")
}
