package entity

import (
	"fmt"
	"strings"
)

// BlobLocator ubicación de un objeto en el blob store (bucket + clave).
type BlobLocator struct {
	Bucket string
	Key    string
}

// IsZero indica que no hay objeto asociado.
func (l BlobLocator) IsZero() bool {
	return l.Bucket == "" && l.Key == ""
}

// String forma persistible "bucket/clave".
func (l BlobLocator) String() string {
	if l.IsZero() {
		return ""
	}
	return l.Bucket + "/" + l.Key
}

// ParseBlobLocator inverso de String. Cadena vacía produce un locator vacío.
func ParseBlobLocator(s string) (BlobLocator, error) {
	if s == "" {
		return BlobLocator{}, nil
	}
	bucket, key, ok := strings.Cut(s, "/")
	if !ok || bucket == "" || key == "" {
		return BlobLocator{}, fmt.Errorf("locator inválido %q (esperado bucket/clave)", s)
	}
	return BlobLocator{Bucket: bucket, Key: key}, nil
}
