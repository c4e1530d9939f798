// Package keywords contém as tabelas de palavras-chave de um parser de
// queries. O pool de conexões não depende deste pacote, e o parser e o
// tokenizer em si não fazem parte deste repositório.
package keywords

// Kind classifica uma palavra-chave pelo seu nível de reserva.
type Kind int

const (
	// KindNone significa que o identificador não é uma palavra-chave.
	KindNone Kind = iota
	// KindUnreserved pode ser usada como identificador sem aspas.
	KindUnreserved
	// KindPartialReserved é reservada apenas em posições específicas.
	KindPartialReserved
	// KindFutureReserved está reservada para versões futuras da linguagem.
	KindFutureReserved
	// KindReserved nunca pode ser usada como identificador.
	KindReserved
)

func (k Kind) String() string {
	switch k {
	case KindUnreserved:
		return "unreserved"
	case KindPartialReserved:
		return "partial_reserved"
	case KindFutureReserved:
		return "future_reserved"
	case KindReserved:
		return "reserved"
	default:
		return "none"
	}
}

// Unreserved lista palavras-chave que podem aparecer como identificadores.
var Unreserved = []string{
	"abort", "abstract", "access", "after", "alias", "allow", "all",
	"annotation", "applied", "as", "asc", "assignment", "before",
	"cardinality", "cast", "committed", "config", "conflict", "constraint",
	"cube", "current", "database", "ddl", "declare", "default",
	"deferrable", "deferred", "delegated", "desc", "deny", "each", "empty",
	"expression", "extension", "final", "first", "from", "function",
	"future", "implicit", "index", "infix", "inheritable", "instance",
	"into", "isolation", "json", "last", "link", "migration", "multi",
	"named", "object", "of", "only", "onto", "operator", "optionality",
	"order", "orphan", "overloaded", "owned", "package", "policy",
	"populate", "postfix", "prefix", "property", "proposed", "pseudo",
	"read", "reject", "release", "rename", "required", "reset", "restrict",
	"rewrite", "role", "roles", "rollup", "savepoint", "scalar", "schema",
	"sdl", "serializable", "session", "source", "superuser", "system",
	"target", "ternary", "text", "then", "to", "transaction", "trigger",
	"type", "unless", "using", "verbose", "version", "view", "write",
}

// PartialReserved lista palavras-chave reservadas apenas em certas posições.
// Manter em sincronia com o tokenizer.
var PartialReserved = []string{
	"except", "intersect", "union",
}

// FutureReserved lista palavras-chave reservadas para uso futuro.
// Manter em sincronia com o tokenizer.
var FutureReserved = []string{
	"anyarray", "begin", "case", "check", "deallocate", "discard", "end",
	"explain", "fetch", "get", "global", "grant", "import", "listen",
	"load", "lock", "match", "move", "notify", "on", "over", "prepare",
	"partition", "raise", "refresh", "reindex", "revoke", "single", "when",
	"window", "never",
}

// Reserved lista palavras-chave totalmente reservadas.
// Manter em sincronia com o tokenizer.
var Reserved = []string{
	"__source__", "__subject__", "__type__", "__std__", "__edgedbsys__",
	"__edgedbtpl__", "__new__", "__old__", "__specified__", "administer",
	"alter", "analyze", "and", "anytuple", "anytype", "by", "commit",
	"configure", "create", "delete", "describe", "detached", "distinct",
	"do", "drop", "else", "exists", "extending", "false", "filter", "for",
	"group", "if", "ilike", "in", "insert", "introspect", "is", "like",
	"limit", "module", "not", "offset", "optional", "or", "rollback",
	"select", "set", "start", "true", "typeof", "update", "variadic",
	"with",
}

var byName map[string]Kind

func init() {
	byName = make(map[string]Kind, len(Unreserved)+len(PartialReserved)+len(FutureReserved)+len(Reserved))
	for _, w := range Unreserved {
		byName[w] = KindUnreserved
	}
	for _, w := range PartialReserved {
		byName[w] = KindPartialReserved
	}
	for _, w := range FutureReserved {
		byName[w] = KindFutureReserved
	}
	for _, w := range Reserved {
		byName[w] = KindReserved
	}
}

// Lookup retorna a classificação de um identificador, ou KindNone
// se ele não for uma palavra-chave. A comparação é case-sensitive;
// o tokenizer normaliza para minúsculas antes de consultar.
func Lookup(word string) Kind {
	return byName[word]
}

// IsKeyword retorna true se o identificador for uma palavra-chave de qualquer tipo.
func IsKeyword(word string) bool {
	return byName[word] != KindNone
}
