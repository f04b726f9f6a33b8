package mail

import (
	"fmt"
	"sort"
	"strings"
)

// ThreadID identifies a conversation group. It is derived from the root
// message's Message-ID, or from a normalized subject for header-less mail.
type ThreadID = string

// Thread is a conversation group referencing member emails by index into
// one shared header slice, never by copy. Members are sorted by date
// ascending. UnreadCount always equals the number of members lacking the
// read flag; callers recompute it whenever membership or flags change.
type Thread struct {
	ID             ThreadID
	EmailIndices   []int
	UnreadCount    int
	TotalCount     int
	LatestDate     int64
	HasAttachments bool
	LatestIdx      int
}

// HasUnread reports whether any member is unread.
func (t *Thread) HasUnread() bool { return t.UnreadCount > 0 }

// Latest returns the most recent member.
func (t *Thread) Latest(headers []EmailHeader) *EmailHeader {
	return &headers[t.LatestIdx]
}

// EmailAt returns the member at position pos within the thread.
func (t *Thread) EmailAt(headers []EmailHeader, pos int) (*EmailHeader, bool) {
	if pos < 0 || pos >= len(t.EmailIndices) {
		return nil, false
	}
	return &headers[t.EmailIndices[pos]], true
}

// Len returns the number of members.
func (t *Thread) Len() int { return len(t.EmailIndices) }

// GroupThreads groups headers into conversation threads using a hybrid
// algorithm: Message-ID based linking through In-Reply-To/References with
// union-find root resolution, and a normalized-subject fallback for
// messages without usable threading headers. Threads are sorted by latest
// date descending.
func GroupThreads(headers []EmailHeader) []Thread {
	if len(headers) == 0 {
		return nil
	}
	all := make([]int, len(headers))
	for i := range all {
		all[i] = i
	}
	return groupIndices(headers, all)
}

// groupIndices runs the grouping algorithm over the subset of headers
// named by idxs, producing threads whose member indices are global. Parent
// resolution only considers Message-IDs within the subset.
func groupIndices(headers []EmailHeader, idxs []int) []Thread {
	if len(idxs) == 0 {
		return nil
	}

	byMessageID := make(map[string]int, len(idxs))
	for _, i := range idxs {
		if headers[i].MessageID != "" {
			byMessageID[headers[i].MessageID] = i
		}
	}

	parent := make(map[int]int, len(idxs))
	for _, i := range idxs {
		parent[i] = resolveParent(headers, byMessageID, i)
	}

	root := make(map[int]int, len(idxs))
	for _, i := range idxs {
		root[i] = findRoot(parent, i)
	}

	threadGroups := make(map[ThreadID][]int)
	subjectGroups := make(map[string][]int)
	for _, i := range idxs {
		if root[i] == i && parent[i] == -1 {
			subj := NormalizeSubject(headers[i].Subject)
			subjectGroups[subj] = append(subjectGroups[subj], i)
			continue
		}
		r := &headers[root[i]]
		threadGroups[rootThreadID(r)] = append(threadGroups[rootThreadID(r)], i)
	}

	// Roots sharing a normalized subject become one subject thread; a lone
	// root rejoins the thread keyed by its own Message-ID (which is where
	// its replies, if any, were grouped above).
	for subj, members := range subjectGroups {
		if len(members) > 1 {
			id := "subj:" + subj
			threadGroups[id] = append(threadGroups[id], members...)
			continue
		}
		i := members[0]
		id := rootThreadID(&headers[i])
		threadGroups[id] = append(threadGroups[id], i)
	}

	threads := make([]Thread, 0, len(threadGroups))
	for id, members := range threadGroups {
		threads = append(threads, buildThread(id, members, headers))
	}
	sortThreads(threads)
	return threads
}

// MergeThreads folds headers[start:] into an existing grouping without a
// full recompute. It returns the updated threads and true on success, or
// the grouping unchanged and false when a correct incremental fold cannot
// be guaranteed; the caller must then fall back to GroupThreads. The
// success path is verified against GroupThreads by property tests.
//
// The fold is refused when:
//   - an already-grouped header references a new header's Message-ID (the
//     new header would become a root and re-key existing threads);
//   - a new header's threading headers reach more than one existing
//     thread, or reach an existing thread only indirectly;
//   - a new reply would land in a thread whose ID differs from the key a
//     full regroup would derive for it (subject-fallback threads);
//   - a new parentless root's normalized subject collides with an existing
//     parentless root's subject (a regroup would re-key that group).
func MergeThreads(threads []Thread, headers []EmailHeader, start int) ([]Thread, bool) {
	n := len(headers)
	if start < 0 || start > n {
		return threads, false
	}
	if start == n {
		return threads, true
	}

	existingMID := make(map[string]int, start)
	for i := 0; i < start; i++ {
		if headers[i].MessageID != "" {
			existingMID[headers[i].MessageID] = i
		}
	}
	newMID := make(map[string]int, n-start)
	for i := start; i < n; i++ {
		if headers[i].MessageID != "" {
			newMID[headers[i].MessageID] = i
		}
	}

	for i := 0; i < start; i++ {
		h := &headers[i]
		if h.InReplyTo != "" {
			if _, ok := newMID[h.InReplyTo]; ok {
				return threads, false
			}
		}
		for _, ref := range h.References {
			if _, ok := newMID[ref]; ok {
				return threads, false
			}
		}
	}

	threadOf := make(map[int]int, start)
	for ti := range threads {
		for _, i := range threads[ti].EmailIndices {
			threadOf[i] = ti
		}
	}

	existingParent := make([]int, start)
	for i := 0; i < start; i++ {
		existingParent[i] = resolveParent(headers, existingMID, i)
	}
	existingRootSubjects := make(map[string]bool)
	for i := 0; i < start; i++ {
		if existingParent[i] == -1 {
			existingRootSubjects[NormalizeSubject(headers[i].Subject)] = true
		}
	}

	lookup := func(mid string, self int) int {
		if mid == "" {
			return -1
		}
		if p, ok := existingMID[mid]; ok && p != self {
			return p
		}
		if p, ok := newMID[mid]; ok && p != self {
			return p
		}
		return -1
	}

	lookupParent := func(i int) int {
		h := &headers[i]
		if p := lookup(h.InReplyTo, i); p != -1 {
			return p
		}
		for j := len(h.References) - 1; j >= 0; j-- {
			if p := lookup(h.References[j], i); p != -1 {
				return p
			}
		}
		return -1
	}

	// Parents must be known for the whole batch before chains are chased:
	// a reply can precede its parent within one appended page.
	batchParent := make([]int, n-start)
	for i := start; i < n; i++ {
		batchParent[i-start] = lookupParent(i)
	}

	appendTo := make(map[int][]int) // thread pos -> new member indices
	var batchRooted []int           // new headers rooted inside the batch

	for i := start; i < n; i++ {
		h := &headers[i]

		refThreads := make(map[int]bool)
		noteRef := func(mid string) {
			if mid == "" {
				return
			}
			if p, ok := existingMID[mid]; ok {
				refThreads[threadOf[p]] = true
			}
		}
		noteRef(h.InReplyTo)
		for _, ref := range h.References {
			noteRef(ref)
		}
		if len(refThreads) > 1 {
			return threads, false
		}

		par := batchParent[i-start]

		// Chase the parent chain until it leaves the batch or ends.
		steps := 0
		top := par
		for top >= start && top != -1 {
			next := batchParent[top-start]
			if next == -1 {
				break
			}
			if steps > n {
				return threads, false // reference cycle; let the regroup decide
			}
			top = next
			steps++
		}

		switch {
		case par == -1:
			if len(refThreads) != 0 {
				// Indirect reference into existing mail with no resolvable
				// parent; the regroup outcome depends on the full index.
				return threads, false
			}
			if existingRootSubjects[NormalizeSubject(h.Subject)] {
				return threads, false
			}
			batchRooted = append(batchRooted, i)

		case top != -1 && top < start:
			// Chain lands on an already-grouped header. The regroup key is
			// derived from that header's own root.
			fullRoot := findRootSlice(existingParent, top)
			key := rootThreadID(&headers[fullRoot])
			ti := threadOf[top]
			if threads[ti].ID != key {
				return threads, false
			}
			if len(refThreads) == 1 && !refThreads[ti] {
				return threads, false
			}
			appendTo[ti] = append(appendTo[ti], i)

		default:
			// Chain stays inside the batch.
			if len(refThreads) != 0 {
				return threads, false
			}
			if rootSubj := NormalizeSubject(headers[top].Subject); existingRootSubjects[rootSubj] {
				return threads, false
			}
			batchRooted = append(batchRooted, i)
		}
	}

	merged := make([]Thread, len(threads))
	copy(merged, threads)
	for ti, extra := range appendTo {
		members := make([]int, 0, len(merged[ti].EmailIndices)+len(extra))
		members = append(members, merged[ti].EmailIndices...)
		members = append(members, extra...)
		merged[ti] = buildThread(merged[ti].ID, members, headers)
	}
	merged = append(merged, groupIndices(headers, batchRooted)...)
	sortThreads(merged)
	return merged, true
}

// RecomputeUnread refreshes the unread count of the thread containing uid
// after a membership or flag change.
func RecomputeUnread(threads []Thread, headers []EmailHeader, uid uint32) {
	for ti := range threads {
		t := &threads[ti]
		found := false
		for _, i := range t.EmailIndices {
			if headers[i].UID == uid {
				found = true
				break
			}
		}
		if !found {
			continue
		}
		unread := 0
		for _, i := range t.EmailIndices {
			if !headers[i].Seen() {
				unread++
			}
		}
		t.UnreadCount = unread
		return
	}
}

// NormalizeSubject strips reply/forward prefixes and lowercases the
// subject for fallback grouping.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(s)
		switch {
		case strings.HasPrefix(lower, "re:"):
			s = strings.TrimLeft(s[3:], " \t")
		case strings.HasPrefix(lower, "fwd:"):
			s = strings.TrimLeft(s[4:], " \t")
		case strings.HasPrefix(lower, "fw:"):
			s = strings.TrimLeft(s[3:], " \t")
		case strings.HasPrefix(lower, "aw:"): // German "Antwort"
			s = strings.TrimLeft(s[3:], " \t")
		case strings.HasPrefix(lower, "sv:"): // Swedish "Svar"
			s = strings.TrimLeft(s[3:], " \t")
		case strings.HasPrefix(lower, "re["): // Re[2]: style
			end := strings.Index(s, "]:")
			if end == -1 {
				return strings.ToLower(s)
			}
			s = strings.TrimLeft(s[end+2:], " \t")
		default:
			return strings.ToLower(s)
		}
	}
}

// resolveParent finds the index the header at i replies to: In-Reply-To
// first, then References from most to least immediate.
func resolveParent(headers []EmailHeader, byMessageID map[string]int, i int) int {
	h := &headers[i]
	if h.InReplyTo != "" {
		if p, ok := byMessageID[h.InReplyTo]; ok && p != i {
			return p
		}
	}
	for j := len(h.References) - 1; j >= 0; j-- {
		if p, ok := byMessageID[h.References[j]]; ok && p != i {
			return p
		}
	}
	return -1
}

// findRoot chases the parent chain with path compression. The step bound
// guards against reference cycles in malformed mail.
func findRoot(parent map[int]int, i int) int {
	current := i
	steps := 0
	for parent[current] != -1 && steps <= len(parent) {
		current = parent[current]
		steps++
	}
	root := current
	for parent[i] != -1 && i != root {
		next := parent[i]
		parent[i] = root
		i = next
	}
	return root
}

// findRootSlice is findRoot over a dense parent slice, without compression.
func findRootSlice(parent []int, i int) int {
	steps := 0
	for parent[i] != -1 && steps <= len(parent) {
		i = parent[i]
		steps++
	}
	return i
}

func rootThreadID(root *EmailHeader) ThreadID {
	if root.MessageID != "" {
		return root.MessageID
	}
	return fmt.Sprintf("uid:%d", root.UID)
}

func buildThread(id ThreadID, members []int, headers []EmailHeader) Thread {
	sort.Slice(members, func(a, b int) bool {
		ia, ib := members[a], members[b]
		if headers[ia].Date != headers[ib].Date {
			return headers[ia].Date < headers[ib].Date
		}
		return headers[ia].UID < headers[ib].UID
	})

	unread := 0
	hasAttachments := false
	for _, i := range members {
		if !headers[i].Seen() {
			unread++
		}
		if headers[i].HasAttachments {
			hasAttachments = true
		}
	}
	latestIdx := members[len(members)-1]

	return Thread{
		ID:             id,
		EmailIndices:   members,
		UnreadCount:    unread,
		TotalCount:     len(members),
		LatestDate:     headers[latestIdx].Date,
		HasAttachments: hasAttachments,
		LatestIdx:      latestIdx,
	}
}

func sortThreads(threads []Thread) {
	sort.Slice(threads, func(a, b int) bool {
		if threads[a].LatestDate != threads[b].LatestDate {
			return threads[a].LatestDate > threads[b].LatestDate
		}
		return threads[a].ID < threads[b].ID
	})
}
