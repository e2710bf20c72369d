package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	awsmanager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Localize resolves an import source reference to a local filesystem path.
// Supported forms:
// - plain filesystem paths and file://path
// - http(s):// URLs (downloaded to temp)
// - s3://bucket/key (downloaded to temp via AWS SDK v2)
// cleanup removes any temp file created and is always non-nil.
func Localize(ctx context.Context, ref string) (localPath string, cleanup func(), err error) {
	cleanup = func() {}

	switch {
	case strings.HasPrefix(ref, "s3://"):
		localPath, err = downloadS3ToTemp(ctx, ref)
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		localPath, err = downloadHTTPToTemp(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		localPath = strings.TrimPrefix(ref, "file://")
	default:
		localPath = ref
	}
	if err != nil {
		return "", cleanup, err
	}
	if localPath != ref && !strings.HasPrefix(ref, "file://") {
		tmp := localPath
		cleanup = func() { _ = os.Remove(tmp) }
	}
	return localPath, cleanup, nil
}

// BaseName returns the source's filename without extension, used as the
// default display name for documents produced from it.
func BaseName(ref string) string {
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}
	ref = strings.TrimSuffix(ref, "/")
	name := path.Base(strings.TrimPrefix(ref, "file://"))
	name = strings.TrimSuffix(name, path.Ext(name))
	if name == "" || name == "." || name == "/" {
		return "File"
	}
	return name
}

func downloadHTTPToTemp(ctx context.Context, url string) (string, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil { return "", err }
	defer resp.Body.Close()
	if resp.StatusCode != 200 { return "", fmt.Errorf("http %d", resp.StatusCode) }
	f, err := os.CreateTemp("", "import-*"+path.Ext(url))
	if err != nil { return "", err }
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func downloadS3ToTemp(ctx context.Context, s3url string) (string, error) {
	// s3://bucket/key
	p := strings.TrimPrefix(s3url, "s3://")
	slash := strings.Index(p, "/")
	if slash <= 0 { return "", fmt.Errorf("invalid s3 url: %s", s3url) }
	bucket := p[:slash]
	key := p[slash+1:]

	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil { return "", err }
	cli := s3.NewFromConfig(cfg)
	dl := awsmanager.NewDownloader(cli)

	f, err := os.CreateTemp("", "import-*"+path.Ext(key))
	if err != nil { return "", err }
	defer f.Close()
	if _, err := dl.Download(ctx, f, &s3.GetObjectInput{Bucket: &bucket, Key: &key}); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	log.Info().Str("bucket", bucket).Str("key", key).Msg("downloaded s3 source to temp")
	return f.Name(), nil
}
