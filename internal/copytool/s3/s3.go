// Package s3 implements the copytool.Copytool contract over an S3-compatible
// object store, mirroring gurre-ddb-pitr's aws.S3Client pattern: a narrow
// interface carrying only the SDK methods this package calls, satisfied
// directly by *s3.Client so production code never needs a hand-rolled mock.
package s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/gridpilot/pilot/internal/model"
	"github.com/gridpilot/pilot/internal/taxonomy"
)

// allowedSchemas matches original_source/pilot/copytool/s3.py's module-level
// constant.
var allowedSchemas = []string{"srm", "gsiftp", "https", "davs", "root", "s3", "s3+rucio"}

// Client is the subset of *awss3.Client this package depends on.
type Client interface {
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
}

var _ Client = (*awss3.Client)(nil)

// Tool transfers files to/from a single S3 bucket. Unlike gfal/rucio,
// original_source/pilot/copytool/s3.py requires protocols (not replicas) to
// be resolved first, since the bucket/key layout comes from the storage
// protocol entry rather than a replica lookup.
type Tool struct {
	client Client
	bucket string
}

// New returns a Tool bound to client and bucket.
func New(client Client, bucket string) *Tool {
	return &Tool{client: client, bucket: bucket}
}

func (t *Tool) Name() string             { return "s3" }
func (t *Tool) RequireReplicas() bool    { return false }
func (t *Tool) RequireProtocols() bool   { return true }
func (t *Tool) AllowedSchemas() []string { return allowedSchemas }

func (t *Tool) IsValidForCopyIn(files []*model.FileSpec) bool {
	return len(files) > 0
}

func (t *Tool) IsValidForCopyOut(files []*model.FileSpec) bool {
	for _, f := range files {
		if len(f.Protocols) == 0 {
			return false
		}
	}
	return len(files) > 0
}

func (t *Tool) CopyIn(ctx context.Context, files []*model.FileSpec) error {
	for _, f := range files {
		key := t.keyFor(f)
		out, err := t.client.GetObject(ctx, &awss3.GetObjectInput{Bucket: &t.bucket, Key: &key})
		if err != nil {
			f.Status = model.FileStatusFailed
			f.StatusCode = int(taxonomy.StageInFailed)
			return taxonomy.New(taxonomy.StageInFailed, map[string]any{"lfn": f.LFN, "key": key}, err.Error())
		}
		defer out.Body.Close()

		dst, err := os.Create(f.WorkDir + "/" + f.LFN)
		if err != nil {
			f.Status = model.FileStatusFailed
			f.StatusCode = int(taxonomy.FileHandlingFailure)
			return taxonomy.New(taxonomy.FileHandlingFailure, map[string]any{"lfn": f.LFN}, err.Error())
		}
		_, copyErr := io.Copy(dst, out.Body)
		closeErr := dst.Close()
		if copyErr != nil {
			f.Status = model.FileStatusFailed
			f.StatusCode = int(taxonomy.StageInFailed)
			return taxonomy.New(taxonomy.StageInFailed, map[string]any{"lfn": f.LFN}, copyErr.Error())
		}
		if closeErr != nil {
			return taxonomy.New(taxonomy.FileHandlingFailure, map[string]any{"lfn": f.LFN}, closeErr.Error())
		}
		f.Status = model.FileStatusTransferred
		f.StatusCode = 0
	}
	return nil
}

func (t *Tool) CopyOut(ctx context.Context, files []*model.FileSpec) error {
	for _, f := range files {
		src, err := os.Open(f.WorkDir + "/" + f.LFN)
		if err != nil {
			f.Status = model.FileStatusFailed
			f.StatusCode = int(taxonomy.MissingOutputFile)
			return taxonomy.New(taxonomy.MissingOutputFile, map[string]any{"lfn": f.LFN}, err.Error())
		}
		defer src.Close()

		key := t.keyFor(f)
		if _, err := t.client.PutObject(ctx, &awss3.PutObjectInput{Bucket: &t.bucket, Key: &key, Body: src}); err != nil {
			f.Status = model.FileStatusFailed
			f.StatusCode = int(taxonomy.StageOutFailed)
			return taxonomy.New(taxonomy.StageOutFailed, map[string]any{"lfn": f.LFN, "key": key}, err.Error())
		}
		if _, err := t.client.HeadObject(ctx, &awss3.HeadObjectInput{Bucket: &t.bucket, Key: &key}); err != nil {
			f.Status = model.FileStatusFailed
			f.StatusCode = int(taxonomy.MissingOutputFile)
			return taxonomy.New(taxonomy.MissingOutputFile, map[string]any{"lfn": f.LFN, "key": key}, "uploaded object not found on head-check: "+err.Error())
		}
		f.Status = model.FileStatusTransferred
		f.StatusCode = 0
	}
	return nil
}

// keyFor derives the object key from the file's resolved SURL/protocol path
// when set, falling back to scope/lfn so CopyIn works before any SURL has
// been computed.
func (t *Tool) keyFor(f *model.FileSpec) string {
	if f.SURL != "" {
		return strings.TrimPrefix(f.SURL, fmt.Sprintf("s3://%s/", t.bucket))
	}
	if len(f.Protocols) > 0 {
		return strings.TrimPrefix(f.Protocols[0].Path, "/")
	}
	return f.Scope + "/" + f.LFN
}
