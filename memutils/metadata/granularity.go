package metadata

// IsOnSamePage returns true if the last byte of the resource A (at offsetA with sizeA bytes) and
// the first byte of resource B (at offsetB) fall on the same page. pageSize must be a power of two.
func IsOnSamePage(offsetA, sizeA, offsetB, pageSize int) bool {
	resourceAEnd := offsetA + sizeA - 1
	resourceAEndPage := resourceAEnd &^ (pageSize - 1)
	resourceBStartPage := offsetB &^ (pageSize - 1)

	return resourceAEndPage == resourceBStartPage
}

// HasGranularityConflict returns true if two chunks of the provided types may not share a page.
// Free ranges never conflict with anything.
func HasGranularityConflict(type1, type2 AllocationType) bool {
	if type1 == AllocationTypeFree || type2 == AllocationTypeFree {
		return false
	}

	return type1 != type2
}
