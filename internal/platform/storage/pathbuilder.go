package storage

import (
	"fmt"
	"strings"
	"sync"
)

// MediaPurpose captures high-level intent for storage layout decisions.
type MediaPurpose string

const (
	PurposePostThumb    MediaPurpose = "post-thumb"
	PurposePostCover    MediaPurpose = "post-cover"
	PurposeProductImage MediaPurpose = "product-image"
)

// PathParams provide required identifiers to compose storage object keys.
type PathParams struct {
	PostID    string
	ProductID string
	FileName  string
}

// PathBuilder composes the object path for a given media purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[MediaPurpose]PathBuilder{
		PurposePostThumb:    buildPostThumbPath,
		PurposePostCover:    buildPostCoverPath,
		PurposeProductImage: buildProductImagePath,
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
func RegisterPathBuilder(purpose MediaPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose MediaPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported media purpose %q", purpose)
	}
	return builder(params)
}

func buildPostThumbPath(params PathParams) (string, error) {
	postID, err := validateSegment("postID", params.PostID)
	if err != nil {
		return "", err
	}
	fileName, err := validateFileName(params.FileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("media/posts/%s/thumb/%s", postID, fileName), nil
}

func buildPostCoverPath(params PathParams) (string, error) {
	postID, err := validateSegment("postID", params.PostID)
	if err != nil {
		return "", err
	}
	fileName, err := validateFileName(params.FileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("media/posts/%s/cover/%s", postID, fileName), nil
}

func buildProductImagePath(params PathParams) (string, error) {
	productID, err := validateSegment("productID", params.ProductID)
	if err != nil {
		return "", err
	}
	fileName, err := validateFileName(params.FileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("media/products/%s/%s", productID, fileName), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

func validateFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: fileName is required")
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: fileName contains invalid path characters")
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: fileName contains invalid traversal sequence")
	}
	return value, nil
}
