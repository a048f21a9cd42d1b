package trends

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// KeyPrefix namespaces every market trends cache key.
const KeyPrefix = "market_trends"

// CacheKey is the canonical, comparable form of a QueryParameters value.
// Keys are plain strings so they order and compare like strings.
type CacheKey string

// String implements fmt.Stringer.
func (k CacheKey) String() string {
	return string(k)
}

// Short returns a compact xxhash digest of the key, used to correlate log lines
// and inspection output without printing the full key.
func (k CacheKey) Short() string {
	return strconv.FormatUint(xxhash.Sum64String(string(k)), 16)
}

// KeyBuilder turns query parameters into cache keys.
// Implementations must be pure: equal normalized parameters give equal keys.
type KeyBuilder interface {
	Build(params QueryParameters) CacheKey
}

// defaultKeyBuilder serializes the exported fields of the normalized parameters
// as sorted name=value pairs. Field order in the struct or at the call site
// never affects the result.
type defaultKeyBuilder struct {
	prefix string
}

// NewKeyBuilder creates the default key builder.
func NewKeyBuilder() KeyBuilder {
	return &defaultKeyBuilder{prefix: KeyPrefix}
}

// NewKeyBuilderWithPrefix creates a key builder with a custom namespace, useful
// when several caches share one backend.
func NewKeyBuilderWithPrefix(prefix string) KeyBuilder {
	if prefix == "" {
		prefix = KeyPrefix
	}
	return &defaultKeyBuilder{prefix: prefix}
}

// Build implements KeyBuilder.
func (b *defaultKeyBuilder) Build(params QueryParameters) CacheKey {
	fields := b.serializeFields(params.Normalize())

	parts := make([]string, 0, len(fields)+1)
	parts = append(parts, b.prefix)
	parts = append(parts, fields...)

	return CacheKey(strings.Join(parts, KeySeparator))
}

// serializeFields returns name=value pairs for every non-zero exported field,
// sorted by field name.
func (b *defaultKeyBuilder) serializeFields(params QueryParameters) []string {
	rv := reflect.ValueOf(params)
	rt := rv.Type()

	pairs := make([]string, 0, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}

		fieldValue := rv.Field(i)
		if fieldValue.IsZero() {
			continue
		}

		pairs = append(pairs, fmt.Sprintf("%s=%s", toSnake(field.Name), b.serializeValue(fieldValue)))
	}

	sort.Strings(pairs)
	return pairs
}

// serializeValue quotes strings so separators inside values cannot collide
// with the key structure.
func (b *defaultKeyBuilder) serializeValue(v reflect.Value) string {
	switch v.Kind() {
	case reflect.String:
		return strconv.Quote(v.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	default:
		return strconv.Quote(fmt.Sprintf("%v", v.Interface()))
	}
}
