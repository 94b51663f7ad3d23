package inform

import (
	"fmt"
	"strings"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/spf13/viper"
)

// domainEmailRetriever maps care staff IDs to organization emails
type domainEmailRetriever struct {
	domain string
}

// NewDomainEmailRetriever initiates email retriever
func NewDomainEmailRetriever(c *viper.Viper) (*domainEmailRetriever, error) {
	r := domainEmailRetriever{}
	r.domain = c.GetString("notif.emailDomain")
	if r.domain == "" {
		return nil, fmt.Errorf("no notif.emailDomain")
	}
	goapp.Log.Info().Str("domain", r.domain).Msg("Email retriever")
	return &r, nil
}

// GetEmail returns the email for a staff member
func (r *domainEmailRetriever) GetEmail(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", nil
	}
	if strings.Contains(userID, "@") {
		return userID, nil
	}
	return userID + "@" + r.domain, nil
}
