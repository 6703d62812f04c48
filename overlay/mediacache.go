package overlay

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"dualcam-dvr/remote"
)

// MediaCache fetches per-user branding assets and keeps them on disk so a
// composition never waits on the network twice for the same asset. A cache
// miss with the backend unreachable degrades to no asset, never to a failed
// composition.
type MediaCache struct {
	dir        string
	staticLogo string
	introPath  string
	client     remote.Client
	httpClient *http.Client
}

func NewMediaCache(dir, staticLogo, introPath string, client remote.Client) *MediaCache {
	return &MediaCache{
		dir:        dir,
		staticLogo: staticLogo,
		introPath:  introPath,
		client:     client,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// AssetsFor assembles the branding assets for a user. The static logo and
// intro come from local configuration; the user logo and sponsor logos come
// from the cache, fetched on miss.
func (m *MediaCache) AssetsFor(userID string) Assets {
	assets := Assets{}
	if m.staticLogo != "" && fileExists(m.staticLogo) {
		assets.StaticLogo = m.staticLogo
	}
	if m.introPath != "" && fileExists(m.introPath) {
		assets.IntroVideo = m.introPath
	}
	if m.client == nil || userID == "" {
		return assets
	}

	urls, err := m.client.GetUserMediaURLs(userID)
	if err != nil {
		log.Printf("🖼️ OVERLAY: media lookup for %s failed, composing without user assets: %v", userID, err)
		return assets
	}

	if urls.LogoURL != "" {
		if path, err := m.fetch(userID, "logo", urls.LogoURL); err == nil {
			assets.UserLogo = path
		} else {
			log.Printf("🖼️ OVERLAY: user logo fetch failed: %v", err)
		}
	}
	for i, u := range urls.SponsorURLs {
		if i >= 3 {
			break
		}
		if path, err := m.fetch(userID, fmt.Sprintf("sponsor%d", i+1), u); err == nil {
			assets.SponsorLogos = append(assets.SponsorLogos, path)
		} else {
			log.Printf("🖼️ OVERLAY: sponsor logo fetch failed: %v", err)
		}
	}
	if urls.IntroURL != "" {
		if path, err := m.fetch(userID, "intro", urls.IntroURL); err == nil {
			assets.IntroVideo = path
		}
	}
	return assets
}

// fetch returns the cached file for an asset, downloading it on miss. Writes
// go through a temp file and rename so a crashed download never leaves a
// truncated asset to be picked up as valid.
func (m *MediaCache) fetch(userID, kind, url string) (string, error) {
	ext := filepath.Ext(strings.Split(url, "?")[0])
	if ext == "" {
		ext = ".png"
	}
	path := filepath.Join(m.dir, userID, kind+ext)
	if fileExists(path) {
		return path, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}

	resp, err := m.httpClient.Get(url)
	if err != nil {
		return "", fmt.Errorf("download of %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download of %s returned %d", url, resp.StatusCode)
	}

	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0644))
	if err != nil {
		return "", err
	}
	defer pf.Cleanup()
	if _, err := io.Copy(pf, resp.Body); err != nil {
		return "", fmt.Errorf("download of %s interrupted: %v", url, err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return "", err
	}
	log.Printf("🖼️ OVERLAY: cached %s asset for %s", kind, userID)
	return path, nil
}

// Invalidate removes every cached asset of a user so the next composition
// refetches them.
func (m *MediaCache) Invalidate(userID string) {
	os.RemoveAll(filepath.Join(m.dir, userID))
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Size() > 0
}
