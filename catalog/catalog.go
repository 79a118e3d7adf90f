// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package catalog

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// SFOSnapshot captures the PARAM.SFO blob of a package at probe time.
type SFOSnapshot struct {
	// Fields holds the decoded key/value entries.
	Fields map[string]string
	// Raw is the undecoded PARAM.SFO blob.
	Raw []byte
	// Hash is the lowercase hex MD5 of Raw.
	Hash string
}

// NewSFOSnapshot builds a snapshot from decoded fields and the raw blob,
// computing the hash.
func NewSFOSnapshot(fields map[string]string, raw []byte) SFOSnapshot {
	sum := md5.Sum(raw)
	return SFOSnapshot{
		Fields: fields,
		Raw:    raw,
		Hash:   hex.EncodeToString(sum[:]),
	}
}

// FieldsJSON returns the canonical JSON projection of the SFO fields, as
// persisted in the sfo_json column.
func (s SFOSnapshot) FieldsJSON() string {
	fields := s.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	// String maps marshal with sorted keys.
	b, err := MarshalCanonical(fields)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Item is one canonical catalog row. Identity is the
// (content_id, app_type, version) triple.
type Item struct {
	ContentID ContentID
	TitleID   string
	Title     string
	AppType   AppType
	Category  string
	Version   string

	PubToolInfo string
	SystemVer   string
	ReleaseDate string

	PkgPath        string
	PkgSize        int64
	PkgMtimeNS     int64
	PkgFingerprint string

	Icon0Path string
	Pic0Path  string
	Pic1Path  string

	SFO SFOSnapshot

	CreatedAt string
	UpdatedAt string
}

// RowMD5 computes the stable content hash of the row. It covers every
// persisted column except row_md5 itself, the timestamps (they change only
// when the hash does) and sfo_raw, which is represented by sfo_hash.
func (i *Item) RowMD5() string {
	columns := map[string]any{
		"content_id":      i.ContentID.String(),
		"title_id":        i.TitleID,
		"title":           i.Title,
		"app_type":        i.AppType.String(),
		"category":        i.Category,
		"version":         i.Version,
		"pubtoolinfo":     i.PubToolInfo,
		"system_ver":      i.SystemVer,
		"release_date":    i.ReleaseDate,
		"pkg_path":        i.PkgPath,
		"pkg_size":        i.PkgSize,
		"pkg_mtime_ns":    i.PkgMtimeNS,
		"pkg_fingerprint": i.PkgFingerprint,
		"icon0_path":      i.Icon0Path,
		"pic0_path":       i.Pic0Path,
		"pic1_path":       i.Pic1Path,
		"sfo_json":        i.SFO.FieldsJSON(),
		"sfo_hash":        i.SFO.Hash,
	}
	payload, err := MarshalCanonical(columns)
	if err != nil {
		return ""
	}
	sum := md5.Sum(payload)
	return hex.EncodeToString(sum[:])
}

// ReleaseDateFromPubToolInfo extracts the creation date from the
// PUBTOOLINFO field (a comma-separated key=value list) and reformats the
// c_date token from YYYYMMDD to YYYY-MM-DD. Returns "" when absent or
// malformed.
func ReleaseDateFromPubToolInfo(pubToolInfo string) string {
	for part := range strings.SplitSeq(pubToolInfo, ",") {
		part = strings.TrimSpace(part)
		value, ok := strings.CutPrefix(part, "c_date=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) != 8 || !isDigits(value) {
			return ""
		}
		return value[:4] + "-" + value[4:6] + "-" + value[6:8]
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
