package query

// typeSynonyms are appended for a query class when term synonyms leave room.
var typeSynonyms = map[Type][]string{
	TypeProcedural:      {"steps", "instructions", "guide", "procedure"},
	TypeDefinitional:    {"definition", "meaning", "overview", "explanation"},
	TypeTroubleshooting: {"error", "fix", "solution", "resolve"},
	TypeLocational:      {"location", "path", "directory", "where"},
}

// termSynonyms maps a query word to related words.
var termSynonyms = map[string][]string{
	"install":       {"setup", "installation"},
	"setup":         {"install", "configuration"},
	"configure":     {"configuration", "settings"},
	"config":        {"configuration", "settings"},
	"settings":      {"configuration", "options"},
	"error":         {"failure", "exception"},
	"crash":         {"failure", "exception"},
	"fail":          {"failure", "error"},
	"delete":        {"remove", "erase"},
	"remove":        {"delete", "uninstall"},
	"create":        {"add", "new"},
	"update":        {"upgrade", "change"},
	"upgrade":       {"update", "migration"},
	"login":         {"signin", "authentication"},
	"password":      {"credential", "passphrase"},
	"user":          {"account", "member"},
	"account":       {"user", "profile"},
	"start":         {"launch", "run"},
	"stop":          {"halt", "shutdown"},
	"price":         {"cost", "pricing"},
	"cost":          {"price", "pricing"},
	"invoice":       {"bill", "billing"},
	"report":        {"summary", "document"},
	"policy":        {"rule", "guideline"},
	"leave":         {"vacation", "absence"},
	"holiday":       {"vacation", "leave"},
	"performance":   {"speed", "latency"},
	"slow":          {"latency", "performance"},
	"network":       {"connection", "connectivity"},
	"backup":        {"restore", "snapshot"},
	"permission":    {"access", "authorization"},
	"documentation": {"docs", "manual"},
}
