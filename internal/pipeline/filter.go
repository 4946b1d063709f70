package pipeline

import (
	"net/url"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/segmenta/prospect-cli/internal/model"
)

// FilterRules are the heuristics separating real companies from noise
// (news articles, listicles, aggregator pages) in raw search results.
type FilterRules struct {
	ArticleKeywords   []string `yaml:"article_keywords"`
	BlockedDomains    []string `yaml:"blocked_domains"`
	BlockedPaths      []string `yaml:"blocked_paths"`
	GenericNouns      []string `yaml:"generic_nouns"`
	CorporateSuffixes []string `yaml:"corporate_suffixes"`
	MaxTitleLength    int      `yaml:"max_title_length"`
}

// DefaultFilterRules returns the built-in rule set, tuned for Brazilian
// search results.
func DefaultFilterRules() FilterRules {
	return FilterRules{
		ArticleKeywords: []string{
			"top", "ranking", "maiores", "melhores", "conheça", "principais",
			"fabricantes de", "lista de", "guia de", "como escolher", "veja",
		},
		BlockedDomains: []string{
			"g1.globo.com", "globo.com", "uol.com.br", "exame.com",
			"estadao.com.br", "folha.uol.com.br", "terra.com.br",
			"abril.com.br", "infomoney.com.br", "valor.globo.com",
			"wikipedia.org", "youtube.com", "linkedin.com", "facebook.com",
			"instagram.com", "mercadolivre.com.br", "econodata.com.br",
		},
		BlockedPaths: []string{
			"/blog/", "/noticias/", "/noticia/", "/ranking/", "/artigos/",
			"/artigo/", "/lista-", "/melhores-", "/guia/", "/wiki/",
		},
		GenericNouns: []string{
			"lista", "ranking", "guia", "portal", "site", "blog",
			"diretório", "catálogo", "revista",
		},
		CorporateSuffixes: []string{".com.br", ".ind.br", ".net.br", ".com", ".net"},
		MaxTitleLength:    80,
	}
}

// LoadFilterRules reads a rule set from a YAML file. Fields left empty in
// the file fall back to the defaults.
func LoadFilterRules(path string) (FilterRules, error) {
	rules := DefaultFilterRules()

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, eris.Wrap(err, "pipeline: read filter rules")
	}

	var loaded FilterRules
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return rules, eris.Wrap(err, "pipeline: unmarshal filter rules")
	}

	if len(loaded.ArticleKeywords) > 0 {
		rules.ArticleKeywords = loaded.ArticleKeywords
	}
	if len(loaded.BlockedDomains) > 0 {
		rules.BlockedDomains = loaded.BlockedDomains
	}
	if len(loaded.BlockedPaths) > 0 {
		rules.BlockedPaths = loaded.BlockedPaths
	}
	if len(loaded.GenericNouns) > 0 {
		rules.GenericNouns = loaded.GenericNouns
	}
	if len(loaded.CorporateSuffixes) > 0 {
		rules.CorporateSuffixes = loaded.CorporateSuffixes
	}
	if loaded.MaxTitleLength > 0 {
		rules.MaxTitleLength = loaded.MaxTitleLength
	}
	return rules, nil
}

// leadingDigitPattern matches listicle-style titles like "10 maiores ...".
var leadingDigitPattern = regexp.MustCompile(`^\d+\s`)

// CompanyFilter rejects search results that look like articles or
// aggregator pages rather than company sites. Each rule is a pure
// predicate; a candidate survives only when it trips none of them.
type CompanyFilter struct {
	rules FilterRules
}

// NewCompanyFilter creates a filter with the given rules.
func NewCompanyFilter(rules FilterRules) *CompanyFilter {
	return &CompanyFilter{rules: rules}
}

// Filter returns the subset of candidates judged to be real companies,
// preserving input order.
func (f *CompanyFilter) Filter(candidates []model.Candidate) []model.Candidate {
	var kept []model.Candidate
	for _, c := range candidates {
		if f.IsCompany(c) {
			kept = append(kept, c)
		}
	}
	return kept
}

// IsCompany reports whether the candidate trips zero rejection rules.
func (f *CompanyFilter) IsCompany(c model.Candidate) bool {
	title := strings.TrimSpace(c.Title)
	lowerTitle := strings.ToLower(title)

	if f.titleHasArticleKeyword(lowerTitle) {
		return false
	}
	if f.linkOnBlockedDomain(c.Link) {
		return false
	}
	if f.linkHasArticlePath(c.Link) {
		return false
	}
	if utf8.RuneCountInString(title) > f.rules.MaxTitleLength {
		return false
	}
	if strings.Count(title, "?")+strings.Count(title, ":") > 1 {
		return false
	}
	if f.titleIsGenericNoun(lowerTitle) {
		return false
	}
	if leadingDigitPattern.MatchString(title) {
		return false
	}
	if model.NormalizeCNPJ(c.CNPJ) == "" && !f.linkHasCorporateSuffix(c.Link) {
		return false
	}
	return true
}

func (f *CompanyFilter) titleHasArticleKeyword(lowerTitle string) bool {
	for _, kw := range f.rules.ArticleKeywords {
		if strings.Contains(lowerTitle, kw) {
			return true
		}
	}
	return false
}

func (f *CompanyFilter) linkOnBlockedDomain(link string) bool {
	host := linkHost(link)
	if host == "" {
		return false
	}
	for _, domain := range f.rules.BlockedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func (f *CompanyFilter) linkHasArticlePath(link string) bool {
	parsed, err := url.Parse(normalizeLink(link))
	if err != nil {
		return false
	}
	path := strings.ToLower(parsed.Path)
	for _, p := range f.rules.BlockedPaths {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

func (f *CompanyFilter) titleIsGenericNoun(lowerTitle string) bool {
	for _, noun := range f.rules.GenericNouns {
		if lowerTitle == noun || strings.HasPrefix(lowerTitle, noun+" ") {
			return true
		}
	}
	return false
}

// linkHasCorporateSuffix checks the host against recognized corporate
// domain suffixes; an extra signal to catch aggregator pages when no tax
// ID is known for the candidate.
func (f *CompanyFilter) linkHasCorporateSuffix(link string) bool {
	host := linkHost(link)
	if host == "" {
		return false
	}
	for _, suffix := range f.rules.CorporateSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

func linkHost(link string) string {
	parsed, err := url.Parse(normalizeLink(link))
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(parsed.Hostname(), "www."))
}

// normalizeLink makes bare-host links parseable by url.Parse.
func normalizeLink(link string) string {
	if link == "" {
		return ""
	}
	if !strings.Contains(link, "://") {
		return "https://" + link
	}
	return link
}
