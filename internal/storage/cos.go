package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/tencentyun/cos-go-sdk-v5"

	"github.com/card-refine/pkg/config"
	"github.com/card-refine/pkg/model"
)

// COSStore keeps reports as objects in a Tencent COS bucket, under the
// same content-derived keys the local store uses. COS lists keys in
// lexical order, which the key scheme makes identical to pause order, so
// List and Prune need no extra sorting metadata.
type COSStore struct {
	client    *cos.Client
	bucketURL string
}

// NewCOSStore creates a store over the configured bucket.
func NewCOSStore(cfg *config.StorageConfig) (*COSStore, error) {
	switch {
	case cfg.Bucket == "":
		return nil, fmt.Errorf("storage: COS backend needs a bucket")
	case cfg.Region == "":
		return nil, fmt.Errorf("storage: COS backend needs a region")
	case cfg.SecretID == "" || cfg.SecretKey == "":
		return nil, fmt.Errorf("storage: COS backend needs credentials")
	}

	domain := cfg.Domain
	if domain == "" {
		domain = "myqcloud.com"
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "https"
	}
	bucketURL := fmt.Sprintf("%s://%s.cos.%s.%s", scheme, cfg.Bucket, cfg.Region, domain)
	parsed, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("storage: bad COS bucket URL %s: %w", bucketURL, err)
	}

	client := cos.NewClient(&cos.BaseURL{BucketURL: parsed}, &http.Client{
		Transport: &cos.AuthorizationTransport{
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
		},
	})
	return &COSStore{client: client, bucketURL: bucketURL}, nil
}

// Put archives the report and returns its ref.
func (s *COSStore) Put(ctx context.Context, report *model.PauseReport) (Ref, error) {
	ref, err := refFor(report)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := encodeReport(&buf, report); err != nil {
		return "", err
	}
	if _, err := s.client.Object.Put(ctx, string(ref), &buf, nil); err != nil {
		return "", fmt.Errorf("storage: uploading report %s: %w", ref, err)
	}
	return ref, nil
}

// Get loads a previously archived report.
func (s *COSStore) Get(ctx context.Context, ref Ref) (*model.PauseReport, error) {
	resp, err := s.client.Object.Get(ctx, string(ref), nil)
	if err != nil {
		return nil, fmt.Errorf("storage: fetching report %s: %w", ref, err)
	}
	defer resp.Body.Close()
	return decodeReport(resp.Body)
}

// List returns the stored refs in pause order, oldest first.
func (s *COSStore) List(ctx context.Context) ([]Ref, error) {
	var refs []Ref
	marker := ""
	for {
		result, _, err := s.client.Bucket.Get(ctx, &cos.BucketGetOptions{
			Prefix: reportPrefix + "/",
			Marker: marker,
		})
		if err != nil {
			return nil, fmt.Errorf("storage: listing reports: %w", err)
		}
		for _, obj := range result.Contents {
			if strings.HasSuffix(obj.Key, reportSuffix) {
				refs = append(refs, Ref(obj.Key))
			}
		}
		if !result.IsTruncated {
			break
		}
		marker = result.NextMarker
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs, nil
}

// Prune deletes the oldest reports until at most keep remain.
func (s *COSStore) Prune(ctx context.Context, keep int) (int, error) {
	refs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	removed := 0
	for _, ref := range refs[:max(0, len(refs)-keep)] {
		if _, err := s.client.Object.Delete(ctx, string(ref)); err != nil {
			return removed, fmt.Errorf("storage: pruning report %s: %w", ref, err)
		}
		removed++
	}
	return removed, nil
}

// Location returns the object URL backing a ref.
func (s *COSStore) Location(ref Ref) string {
	return s.bucketURL + "/" + string(ref)
}
