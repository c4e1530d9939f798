// Package tenant define o modelo de backend e estruturas de configuração.
// Um backend representa um database lógico de tenant servido por uma única instância SQL Server.
package tenant

import "time"

// Backend representa um database de tenant mapeado para uma instância SQL Server.
type Backend struct {
	Name              string        `yaml:"name"`
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	Database          string        `yaml:"database"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// DSN retorna a string de conexão do SQL Server para este backend.
func (b *Backend) DSN() string {
	return "sqlserver://" + b.Username + ":" + b.Password +
		"@" + b.Host + ":" + itoa(b.Port) +
		"?database=" + b.Database +
		"&connection+timeout=" + itoa(int(b.ConnectionTimeout.Seconds()))
}

// Addr retorna o endereço host:port da instância SQL Server.
func (b *Backend) Addr() string {
	return b.Host + ":" + itoa(b.Port)
}

// itoa converte um int para string sem depender de strconv para este caso simples.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
