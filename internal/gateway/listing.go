package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/package-url/packageurl-go"

	"github.com/naka-gawa/binary-top/internal/domain"
)

// Listing is the response of a registry view queried with include_docs=true.
// Rows are kept raw so that a listing can be written back out unchanged.
type Listing struct {
	TotalRows int               `json:"total_rows,omitempty"`
	Offset    int               `json:"offset,omitempty"`
	Rows      []json.RawMessage `json:"rows"`
}

type listingRow struct {
	ID  string          `json:"id"`
	Doc json.RawMessage `json:"doc"`
}

// packageDoc holds the subset of a registry document the ranking needs. Repository and
// users are free-form in the registry and are decoded leniently.
type packageDoc struct {
	Name       string          `json:"name"`
	Repository json.RawMessage `json:"repository"`
	Users      json.RawMessage `json:"users"`
}

// DecodeListing parses a raw listing document. A listing without rows is bad data.
func DecodeListing(data []byte) (*Listing, error) {
	var l Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadData, err)
	}
	if len(l.Rows) == 0 {
		return nil, fmt.Errorf("%w: listing has no rows", ErrBadData)
	}
	return &l, nil
}

// Records converts the listing rows to package records. Rows that carry no usable package
// document are dropped, so the result may be shorter than l.Rows.
func (l *Listing) Records() []*domain.PackageRecord {
	records := make([]*domain.PackageRecord, 0, len(l.Rows))
	for _, raw := range l.Rows {
		if rec := ParseRow(raw); rec != nil {
			records = append(records, rec)
		}
	}
	return records
}

// ParseRow builds a record from one listing row, or returns nil when the row is unusable.
// The package document is read from the row's doc field, or from the row itself when the
// row has no doc.
func ParseRow(raw json.RawMessage) *domain.PackageRecord {
	var row listingRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil
	}
	docRaw := row.Doc
	if len(docRaw) == 0 || bytes.Equal(docRaw, []byte("null")) {
		docRaw = raw
	}

	var doc packageDoc
	if err := json.Unmarshal(docRaw, &doc); err != nil {
		return nil
	}
	name := strings.TrimSpace(doc.Name)
	if name == "" {
		name = strings.TrimSpace(row.ID)
	}
	if name == "" || strings.HasPrefix(name, "_design/") {
		return nil
	}

	return &domain.PackageRecord{
		Name:          name,
		PURL:          packageURL(name),
		RepositoryURL: NormalizeRepoURL(repositoryURL(doc.Repository)),
		NPMFavorites:  countUsers(doc.Users),
	}
}

// repositoryURL extracts the URL from a repository field, which may be a bare string, an
// object with a url key, or a list of either.
func repositoryURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.URL
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if u := repositoryURL(item); NormalizeRepoURL(u) != "" {
				return u
			}
		}
	}
	return ""
}

func countUsers(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var users map[string]json.RawMessage
	if err := json.Unmarshal(raw, &users); err != nil {
		return 0
	}
	return len(users)
}

func packageURL(name string) string {
	namespace, base := "", name
	if strings.HasPrefix(name, "@") {
		if i := strings.Index(name, "/"); i > 0 {
			namespace, base = name[:i], name[i+1:]
		}
	}
	return packageurl.NewPackageURL(packageurl.TypeNPM, namespace, base, "", nil, "").ToString()
}
