package abuse

import (
	"strings"
)

var builtinDisposableDomains = []string{
	"10minutemail.com",
	"discard.email",
	"dispostable.com",
	"getnada.com",
	"guerrillamail.com",
	"maildrop.cc",
	"mailinator.com",
	"mailnesia.com",
	"mintemail.com",
	"mohmal.com",
	"sharklasers.com",
	"spamgourmet.com",
	"temp-mail.org",
	"tempmail.com",
	"throwawaymail.com",
	"trashmail.com",
	"yopmail.com",
}

type domainSet map[string]struct{}

func newDomainSet(extra []string) domainSet {
	set := make(domainSet, len(builtinDisposableDomains)+len(extra))
	for _, d := range builtinDisposableDomains {
		set[d] = struct{}{}
	}
	for _, d := range extra {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			set[d] = struct{}{}
		}
	}
	return set
}

// contains matches the email's domain and its parent domains, so
// "x.mailinator.com" is caught by "mailinator.com".
func (s domainSet) contains(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	for domain != "" {
		if _, ok := s[domain]; ok {
			return true
		}
		dot := strings.Index(domain, ".")
		if dot < 0 {
			break
		}
		domain = domain[dot+1:]
	}
	return false
}
