package hub

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"evalprep/internal/executil"
)

// Uploader pushes a local folder to a hub repository with huggingface-cli.
type Uploader struct {
	Runner   executil.Runner
	CLI      string // defaults to "huggingface-cli"
	Endpoint string
	RepoType string // defaults to "model"
	Token    string // forwarded as HF_TOKEN when set
	Log      zerolog.Logger
}

// RepoURL returns the browser URL of a repository.
func RepoURL(endpoint, repoType, repoID string) string {
	base := strings.TrimRight(endpoint, "/")
	switch repoType {
	case "dataset":
		return base + "/datasets/" + repoID
	case "space":
		return base + "/spaces/" + repoID
	default:
		return base + "/" + repoID
	}
}

// Upload blocks until folder has been uploaded to repoID and returns the repo URL.
func (u *Uploader) Upload(ctx context.Context, folder, repoID string) (string, error) {
	cli := u.CLI
	if cli == "" {
		cli = "huggingface-cli"
	}
	repoType := u.RepoType
	if repoType == "" {
		repoType = "model"
	}
	c := executil.Cmd{
		Path:   cli,
		Args:   []string{"upload", repoID, folder, ".", "--repo-type", repoType},
		Stream: true,
	}
	if u.Endpoint != "" || u.Token != "" {
		c.Env = map[string]string{}
		if u.Endpoint != "" {
			c.Env["HF_ENDPOINT"] = u.Endpoint
		}
		if u.Token != "" {
			c.Env["HF_TOKEN"] = u.Token
		}
	}
	u.Log.Info().Str("repo", repoID).Str("folder", folder).Msg("uploading to hub")
	if err := u.Runner.Run(ctx, c); err != nil {
		return "", fmt.Errorf("upload %s to %s: %w", folder, repoID, err)
	}
	endpoint := u.Endpoint
	if endpoint == "" {
		endpoint = "https://huggingface.co"
	}
	return RepoURL(endpoint, repoType, repoID), nil
}

// UploadTask owns a background upload. Wait must be called before the
// process exits.
type UploadTask struct {
	RepoID string

	g    *errgroup.Group
	mu   sync.Mutex
	url  string
	done bool
}

// Start launches Upload in the background. onDone, if set, runs on the upload
// goroutine once the upload finishes.
func (u *Uploader) Start(ctx context.Context, folder, repoID string, onDone func(url string, err error)) *UploadTask {
	t := &UploadTask{RepoID: repoID}
	g, gctx := errgroup.WithContext(ctx)
	t.g = g
	g.Go(func() error {
		url, err := u.Upload(gctx, folder, repoID)
		t.mu.Lock()
		t.url, t.done = url, true
		t.mu.Unlock()
		if onDone != nil {
			onDone(url, err)
		}
		return err
	})
	return t
}

// Done reports whether the upload has finished, successfully or not.
func (t *UploadTask) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Wait blocks until the upload finishes and returns its result.
func (t *UploadTask) Wait() (string, error) {
	err := t.g.Wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url, err
}
