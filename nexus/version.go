package nexus

import (
	"sync"

	"github.com/wricardo/wsnexus/relay/protocol"
)

var apiWarnings = struct {
	sync.Mutex
	seen map[string]bool
}{seen: map[string]bool{}}

// ResetAPIWarnings forgets which servers already produced an API version
// diagnostic. With no arguments every server is forgotten.
func ResetAPIWarnings(urls ...string) {
	apiWarnings.Lock()
	defer apiWarnings.Unlock()

	if len(urls) == 0 {
		apiWarnings.seen = map[string]bool{}
		return
	}
	for _, u := range urls {
		delete(apiWarnings.seen, u)
	}
}

func firstAPIWarning(url string) bool {
	apiWarnings.Lock()
	defer apiWarnings.Unlock()

	if apiWarnings.seen[url] {
		return false
	}
	apiWarnings.seen[url] = true
	return true
}

// checkVersion is the permanent SERVER_INFO listener. Mismatches are advisory.
func (n *Nexus) checkVersion(info protocol.ServerInfo) {
	if info.APIVersion == n.apiVersion || !firstAPIWarning(n.url) {
		return
	}

	c, err := protocol.CheckVersion(n.apiVersion, info.APIVersion)
	if err != nil {
		n.log.Warnf("cannot compare api versions: %s", err)
		return
	}
	switch c {
	case protocol.MajorMismatch:
		n.log.Errorf("core api features may not work: your api version (%s) does not match the server's api version (%s)", n.apiVersion, info.APIVersion)
	case protocol.MinorMismatch:
		n.log.Warnf("optional api features may not work: your api version (%s) does not match the server's api version (%s)", n.apiVersion, info.APIVersion)
	}
}
