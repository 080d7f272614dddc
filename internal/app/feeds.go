package app

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v2"

	"torrentstream/streamfs/internal/domain"
	"torrentstream/streamfs/internal/ingest"
	"torrentstream/streamfs/internal/resolver"
)

// FeedsFile is the YAML list of feeds to poll.
type FeedsFile struct {
	Feeds []FeedConfig `yaml:"feeds"`
}

type FeedConfig struct {
	Name  string           `yaml:"name"`
	Type  string           `yaml:"type"`
	URL   string           `yaml:"url"`
	Items []FreeItemConfig `yaml:"items"`
}

type FreeItemConfig struct {
	InfoHash  string           `yaml:"infoHash"`
	Name      string           `yaml:"name"`
	MagnetURI string           `yaml:"magnetURI"`
	Files     []FreeFileConfig `yaml:"files"`
}

type FreeFileConfig struct {
	Path   string `yaml:"path"`
	Length int64  `yaml:"length"`
}

func LoadFeeds(file string) (FeedsFile, error) {
	var out FeedsFile
	if strings.TrimSpace(file) == "" {
		return out, nil
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return out, fmt.Errorf("read feeds file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("parse feeds file %s: %w", file, err)
	}
	for i, f := range out.Feeds {
		if err := f.validate(); err != nil {
			return FeedsFile{}, fmt.Errorf("feed %d: %w", i, err)
		}
	}
	return out, nil
}

func (f FeedConfig) validate() error {
	switch domain.FeedType(strings.ToLower(f.Type)) {
	case domain.FeedRSS, domain.FeedJSON:
		if strings.TrimSpace(f.URL) == "" {
			return fmt.Errorf("%w: %s feed %q needs a url", ErrInvalidConfig, f.Type, f.Name)
		}
	case domain.FeedFree:
		for _, it := range f.Items {
			if domain.NormalizeInfoHash(it.InfoHash) == "" {
				return fmt.Errorf("%w: free item %q has a malformed infoHash", ErrInvalidConfig, it.Name)
			}
		}
	default:
		return fmt.Errorf("%w: unsupported feed type %q", ErrInvalidConfig, f.Type)
	}
	return nil
}

// Sources builds an ingest source per configured feed.
func (ff FeedsFile) Sources(client *http.Client) []ingest.Source {
	out := make([]ingest.Source, 0, len(ff.Feeds))
	for _, f := range ff.Feeds {
		switch domain.FeedType(strings.ToLower(f.Type)) {
		case domain.FeedRSS:
			out = append(out, ingest.RSSSource{FeedName: f.Name, URL: f.URL, Client: client})
		case domain.FeedJSON:
			out = append(out, ingest.JSONSource{FeedName: f.Name, URL: f.URL, Client: client})
		case domain.FeedFree:
			out = append(out, ingest.FreeSource{FeedName: f.Name, Items: f.freeItems()})
		}
	}
	return out
}

func (f FeedConfig) freeItems() []domain.ResolvedInfo {
	out := make([]domain.ResolvedInfo, 0, len(f.Items))
	for _, it := range f.Items {
		ih := domain.NormalizeInfoHash(it.InfoHash)
		files := make([]domain.FileRef, 0, len(it.Files))
		for _, file := range it.Files {
			p := strings.Trim(file.Path, "/")
			files = append(files, domain.FileRef{Name: path.Base(p), Path: p, Length: file.Length})
		}
		magnet := it.MagnetURI
		if magnet == "" {
			magnet = resolver.BuildMagnet(ih, it.Name, nil)
		}
		out = append(out, domain.ResolvedInfo{
			SourceType: domain.SourceFree,
			InfoHash:   ih,
			Name:       it.Name,
			MagnetURI:  magnet,
			Files:      files,
		})
	}
	return out
}
