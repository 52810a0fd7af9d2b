// Package cache holds availability caches keyed by store and date window.
//
// Every store has a generation that Invalidate advances. A reader that
// missed passes the generation it saw to Set, and the entry is dropped when
// a write invalidated the store in between.
package cache

import (
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/model"
)

func scopeKey(merchantID, slug string) string {
	return merchantID + "/" + slug
}

func windowKey(window model.DateRange) string {
	return window.From.String() + ".." + window.To.String()
}
