package storage

import "context"

// Page is one batch of keys returned by a listing call.
type Page struct {
	Keys []string
	// NextToken resumes the listing after this page. Empty on the last page.
	NextToken string
}

// Last reports whether no further pages follow.
func (p Page) Last() bool {
	return p.NextToken == ""
}

// Lister captures the paginated listing the dispatcher needs.
type Lister interface {
	// ListPage returns the page of keys under prefix that starts at token.
	// An empty token starts from the beginning of the prefix.
	ListPage(ctx context.Context, prefix, token string) (Page, error)
	Bucket() string
}
