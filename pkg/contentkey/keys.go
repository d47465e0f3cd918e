// Package contentkey provides deterministic content hashing used for the
// LLM resolver's cache key (pair_hash) and other content-addressed lookups.
package contentkey

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	KeyVersion = "v1"

	MaxTenantLen = 64
	MaxScopeLen  = 32
	MaxKeyLen    = 256

	MaxParts = 32
	MaxBytes = 32 * 1024
)

var (
	ErrInvalidKey   = errors.New("contentkey: invalid key")
	ErrInputTooBig  = errors.New("contentkey: input too big")
	ErrInvalidScope = errors.New("contentkey: invalid scope")
)

// KeyParts is the parsed representation of a key built by BuildKey.
type KeyParts struct {
	Version string `json:"version"`
	Tenant  string `json:"tenant"`
	Scope   string `json:"scope"`
	Hash    string `json:"hash"`
}

// BuildKey computes a deterministic key for a tenant+scope from ordered parts.
func BuildKey(tenant, scope string, parts ...any) (string, error) {
	tenant = normalizeTenant(tenant)
	scope, err := normalizeScope(scope)
	if err != nil {
		return "", err
	}
	if len(parts) > MaxParts {
		return "", ErrInputTooBig
	}

	b, err := encodeDeterministic(parts)
	if err != nil {
		return "", err
	}
	if len(b) > MaxBytes {
		return "", ErrInputTooBig
	}

	sum := sha256.Sum256(b)
	hash := hex.EncodeToString(sum[:])
	key := fmt.Sprintf("%s:%s:%s:%s", KeyVersion, tenant, scope, hash)
	if len(key) > MaxKeyLen {
		return "", ErrInvalidKey
	}
	return key, nil
}

// BuildKeyFromMap computes a deterministic key from a map by sorting keys.
func BuildKeyFromMap(tenant, scope string, m map[string]any) (string, error) {
	if m == nil {
		return BuildKey(tenant, scope)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, strings.ToLower(strings.TrimSpace(k)))
	}
	sort.Strings(keys)

	parts := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		if k == "" {
			continue
		}
		parts = append(parts, k, m[k])
	}
	return BuildKey(tenant, scope, parts...)
}

// ParseKey parses "v1:<tenant>:<scope>:<sha256hex>".
func ParseKey(key string) (KeyParts, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > MaxKeyLen {
		return KeyParts{}, ErrInvalidKey
	}
	parts := strings.Split(key, ":")
	if len(parts) != 4 {
		return KeyParts{}, ErrInvalidKey
	}
	v, tenant, scope, hash := parts[0], parts[1], parts[2], parts[3]

	if v != KeyVersion {
		return KeyParts{}, ErrInvalidKey
	}
	if err := validateTenant(tenant); err != nil {
		return KeyParts{}, err
	}
	nscope, err := normalizeScope(scope)
	if err != nil {
		return KeyParts{}, err
	}
	if hash == "" || len(hash) != 64 || !isLowerHex(hash) {
		return KeyParts{}, ErrInvalidKey
	}
	return KeyParts{Version: v, Tenant: tenant, Scope: nscope, Hash: hash}, nil
}

// ValidateKey checks format and returns nil if valid.
func ValidateKey(key string) error {
	_, err := ParseKey(key)
	return err
}

// PairFields is the subset of a record that participates in match decisions:
// everything that could change whether two records describe the same event.
type PairFields struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	City          string   `json:"city"`
	LocationName  string   `json:"location_name"`
	Dates         []string `json:"dates"`
	Lat           *float64 `json:"lat,omitempty"`
	Lon           *float64 `json:"lon,omitempty"`
	GeoConfidence *float64 `json:"geo_confidence,omitempty"`
	SourceType    string   `json:"source_type"`
}

// PairHash returns a content hash over the matching-relevant fields of two
// records, keyed symmetrically: PairHash(idA, a, idB, b) == PairHash(idB, b, idA, a).
// Records are ordered by id before encoding, so the hash does not depend on
// call argument order.
func PairHash(idA string, a PairFields, idB string, b PairFields) (string, error) {
	firstID, firstFields, secondID, secondFields := idA, a, idB, b
	if idB < idA {
		firstID, firstFields, secondID, secondFields = idB, b, idA, a
	}

	payload := map[string]any{
		"a_id":     firstID,
		"a_fields": fieldsToMap(firstFields),
		"b_id":     secondID,
		"b_fields": fieldsToMap(secondFields),
	}

	b64, err := encodeDeterministic([]any{payload})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b64)
	return hex.EncodeToString(sum[:]), nil
}

func fieldsToMap(f PairFields) map[string]any {
	m := map[string]any{
		"title":         f.Title,
		"description":    f.Description,
		"city":          f.City,
		"location_name": f.LocationName,
		"dates":         toAnySlice(f.Dates),
		"source_type":   f.SourceType,
	}
	if f.Lat != nil {
		m["lat"] = *f.Lat
	}
	if f.Lon != nil {
		m["lon"] = *f.Lon
	}
	if f.GeoConfidence != nil {
		m["geo_confidence"] = *f.GeoConfidence
	}
	return m
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// ---- normalization/validation ----

func normalizeTenant(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return "local"
	}
	if len(t) > MaxTenantLen {
		t = t[:MaxTenantLen]
	}
	out := make([]rune, 0, len(t))
	for _, r := range t {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return "local"
	}
	return string(out)
}

func validateTenant(t string) error {
	if t == "" || len(t) > MaxTenantLen {
		return ErrInvalidKey
	}
	for _, r := range t {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			continue
		}
		return ErrInvalidKey
	}
	return nil
}

func normalizeScope(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || len(s) > MaxScopeLen {
		return "", ErrInvalidScope
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			continue
		}
		return "", ErrInvalidScope
	}
	return s, nil
}

func isLowerHex(s string) bool {
	for _, r := range s {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			continue
		}
		return false
	}
	return true
}

// ---- deterministic encoder ----
//
// Canonical JSON-like byte encoding for hashing (not for wire serialization):
// maps get sorted keys, slices preserve order, numbers use shortest
// round-trip form.

func encodeDeterministic(parts []any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encAny(&buf, parts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encAny(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		b, _ := json.Marshal(x)
		buf.Write(b)
		return nil
	case []byte:
		buf.WriteByte('"')
		buf.WriteString(hex.EncodeToString(x))
		buf.WriteByte('"')
		return nil
	case int:
		buf.WriteString(strconv.FormatInt(int64(x), 10))
		return nil
	case int64:
		buf.WriteString(strconv.FormatInt(x, 10))
		return nil
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(x), 10))
		return nil
	case uint64:
		buf.WriteString(strconv.FormatUint(x, 10))
		return nil
	case float64:
		buf.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
		return nil
	case json.Number:
		s := strings.TrimSpace(x.String())
		if s == "" {
			buf.WriteString("null")
			return nil
		}
		buf.WriteString(s)
		return nil
	case []any:
		buf.WriteByte('[')
		for i := 0; i < len(x); i++ {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encAny(buf, x[i]); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, strings.ToLower(strings.TrimSpace(k)))
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		first := true
		for _, k := range keys {
			if k == "" {
				continue
			}
			if !first {
				buf.WriteByte(',')
			}
			first = false
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encAny(buf, x[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case map[string]string:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, strings.ToLower(strings.TrimSpace(k)))
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			vb, _ := json.Marshal(x[k])
			buf.Write(kb)
			buf.WriteByte(':')
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}
