package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"go.uber.org/zap"

	"github.com/mxverify/mxverify/internal/classify"
	"github.com/mxverify/mxverify/internal/dispatch"
	"github.com/mxverify/mxverify/internal/resolver"
)

// DomainInfo is the payload for GET /domains/:domain/info.
type DomainInfo struct {
	Domain         string                   `json:"domain"`
	MXHosts        []string                 `json:"mx_hosts"`
	Classification *classify.Classification `json:"classification,omitempty"`
	Registrar      string                   `json:"registrar,omitempty"`
	CreatedDate    string                   `json:"created_date,omitempty"`
	ExpirationDate string                   `json:"expiration_date,omitempty"`
	CheckedAt      time.Time                `json:"checked_at"`
}

func (h *Handler) GetDomainInfo(c *gin.Context) {
	domain := strings.ToLower(strings.TrimSpace(c.Param("domain")))
	if domain == "" || strings.ContainsAny(domain, " /") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid domain"})
		return
	}

	ctx := c.Request.Context()

	var cached DomainInfo
	if err := h.cache.GetCachedDomainInfo(ctx, domain, &cached); err == nil {
		c.JSON(http.StatusOK, cached)
		return
	}

	info := DomainInfo{
		Domain:    domain,
		MXHosts:   []string{},
		CheckedAt: time.Now(),
	}

	hosts, err := h.resolver.Resolve(ctx, domain)
	switch {
	case err == nil:
		h.metrics.MXResolved(dispatch.MXOutcomeResolved)
	case errors.Is(err, resolver.ErrNoMX):
		h.metrics.MXResolved(dispatch.MXOutcomeNoMX)
	default:
		h.metrics.MXResolved(dispatch.MXOutcomeError)
		c.JSON(http.StatusBadGateway, gin.H{"error": "mx resolution failed"})
		return
	}
	if len(hosts) > 0 {
		info.MXHosts = hosts
		class := h.classifier.Classify(hosts[0])
		info.Classification = &class
	}

	// WHOIS is best effort; registration data is often rate limited.
	if raw, err := whois.Whois(domain); err == nil {
		if parsed, err := whoisparser.Parse(raw); err == nil {
			info.Registrar = parsed.Registrar.Name
			info.CreatedDate = parsed.Domain.CreatedDate
			info.ExpirationDate = parsed.Domain.ExpirationDate
		}
	}

	if err := h.cache.CacheDomainInfo(ctx, domain, info); err != nil {
		h.logger.Debug("failed to cache domain info", zap.Error(err))
	}

	c.JSON(http.StatusOK, info)
}
