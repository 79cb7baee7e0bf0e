package authority

// domainEntry fixes the score, category, and flags for a known domain.
// Tables are matched against the normalized hostname most-specific domain
// first; a tie between tables resolves high before medium before low.
type domainEntry struct {
	Score    int
	Category string
	Flags    []string
}

// highAuthorityDomains are established primary sources: government health
// agencies, peer-reviewed publishers, and wire services.
var highAuthorityDomains = map[string]domainEntry{
	"nih.gov":                 {Score: 95, Category: "government"},
	"cdc.gov":                 {Score: 94, Category: "government"},
	"who.int":                 {Score: 93, Category: "government"},
	"fda.gov":                 {Score: 92, Category: "government"},
	"europa.eu":               {Score: 88, Category: "government"},
	"nature.com":              {Score: 95, Category: "academic", Flags: []string{"peer_reviewed"}},
	"science.org":             {Score: 95, Category: "academic", Flags: []string{"peer_reviewed"}},
	"nejm.org":                {Score: 94, Category: "academic", Flags: []string{"peer_reviewed"}},
	"thelancet.com":           {Score: 94, Category: "academic", Flags: []string{"peer_reviewed"}},
	"ieee.org":                {Score: 90, Category: "academic", Flags: []string{"peer_reviewed"}},
	"acm.org":                 {Score: 90, Category: "academic", Flags: []string{"peer_reviewed"}},
	"arxiv.org":               {Score: 85, Category: "academic", Flags: []string{"preprint"}},
	"pubmed.ncbi.nlm.nih.gov": {Score: 93, Category: "academic"},
	"reuters.com":             {Score: 90, Category: "news", Flags: []string{"wire_service"}},
	"apnews.com":              {Score: 90, Category: "news", Flags: []string{"wire_service"}},
	"bbc.com":                 {Score: 88, Category: "news"},
	"bbc.co.uk":               {Score: 88, Category: "news"},
	"economist.com":           {Score: 86, Category: "news"},
	"ft.com":                  {Score: 86, Category: "news"},
	"bloomberg.com":           {Score: 85, Category: "news"},
}

// mediumAuthorityDomains are broadly reliable secondary sources.
var mediumAuthorityDomains = map[string]domainEntry{
	"wikipedia.org":      {Score: 70, Category: "encyclopedia", Flags: []string{"user_edited"}},
	"britannica.com":     {Score: 78, Category: "encyclopedia"},
	"nytimes.com":        {Score: 78, Category: "news"},
	"washingtonpost.com": {Score: 77, Category: "news"},
	"theguardian.com":    {Score: 76, Category: "news"},
	"wsj.com":            {Score: 78, Category: "news"},
	"npr.org":            {Score: 76, Category: "news"},
	"cnn.com":            {Score: 68, Category: "news"},
	"forbes.com":         {Score: 62, Category: "news", Flags: []string{"contributor_content"}},
	"techcrunch.com":     {Score: 65, Category: "technology"},
	"arstechnica.com":    {Score: 70, Category: "technology"},
	"wired.com":          {Score: 68, Category: "technology"},
	"stackoverflow.com":  {Score: 68, Category: "technology", Flags: []string{"user_generated"}},
	"github.com":         {Score: 65, Category: "technology", Flags: []string{"user_generated"}},
	"investopedia.com":   {Score: 66, Category: "finance"},
}

// lowAuthorityDomains are known weak or engagement-driven sources.
var lowAuthorityDomains = map[string]domainEntry{
	"buzzfeed.com":    {Score: 35, Category: "entertainment", Flags: []string{"opinion"}},
	"dailymail.co.uk": {Score: 30, Category: "news", Flags: []string{"sensational"}},
	"thesun.co.uk":    {Score: 28, Category: "news", Flags: []string{"sensational"}},
	"medium.com":      {Score: 45, Category: "blog", Flags: []string{"user_generated", "opinion"}},
	"quora.com":       {Score: 40, Category: "forum", Flags: []string{"user_generated"}},
	"reddit.com":      {Score: 40, Category: "forum", Flags: []string{"user_generated"}},
	"pinterest.com":   {Score: 25, Category: "social", Flags: []string{"user_generated"}},
	"facebook.com":    {Score: 30, Category: "social", Flags: []string{"user_generated"}},
	"x.com":           {Score: 32, Category: "social", Flags: []string{"user_generated"}},
	"twitter.com":     {Score: 32, Category: "social", Flags: []string{"user_generated"}},
}

// tldScores score otherwise-unknown hosts by top-level domain. Compound TLDs
// are checked before single-label ones.
var tldScores = map[string]int{
	"gov":    90,
	"mil":    88,
	"edu":    85,
	"gov.uk": 90,
	"ac.uk":  85,
	"edu.au": 85,
	"gov.au": 88,
	"gc.ca":  88,
	"int":    80,
	"org":    60,
}

// compoundTLDs are multi-label public suffixes the extractor must keep whole
// so that "example.co.uk" yields "co.uk" and not "uk".
var compoundTLDs = map[string]struct{}{
	"co.uk":  {},
	"gov.uk": {},
	"ac.uk":  {},
	"org.uk": {},
	"com.au": {},
	"edu.au": {},
	"gov.au": {},
	"co.jp":  {},
	"co.nz":  {},
	"gc.ca":  {},
}

// hostHeuristic adjusts the default score when the hostname contains a
// substring, optionally excluding hosts that also contain one of Except.
type hostHeuristic struct {
	Contains string
	Delta    int
	Flag     string
	Except   []string
}

// defaultHostHeuristics run in order over unknown hostnames. The reuters/ap
// exclusions avoid double-counting wire services that normally match the
// high-authority table.
var defaultHostHeuristics = []hostHeuristic{
	{Contains: "university", Delta: 15},
	{Contains: "research", Delta: 15},
	{Contains: "institute", Delta: 12},
	{Contains: "journal", Delta: 10},
	{Contains: "news", Delta: 10, Except: []string{"reuters", "ap"}},
	{Contains: "blog", Delta: -10, Flag: "opinion"},
	{Contains: "forum", Delta: -10, Flag: "user_generated"},
	{Contains: "shop", Delta: -15, Flag: "sponsored"},
	{Contains: "store", Delta: -15, Flag: "sponsored"},
	{Contains: "deals", Delta: -15, Flag: "sponsored"},
}

// pathHeuristic adjusts the default score when the URL path contains a marker.
type pathHeuristic struct {
	Contains string
	Delta    int
	Flag     string
}

var defaultPathHeuristics = []pathHeuristic{
	{Contains: "/affiliate", Delta: -20, Flag: "sponsored"},
	{Contains: "/sponsored", Delta: -20, Flag: "sponsored"},
	{Contains: "/press-release", Delta: -10, Flag: "press_release"},
}
