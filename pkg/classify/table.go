package classify

import (
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Mapping describes how a resource type becomes an entity.
type Mapping struct {
	Role Role
	// Label is the default service label (the Service's process).
	Label string
	// Endpoint and Port are pure extractors; empty and zero mean absent.
	Endpoint func(Attributes) string
	Port     func(Attributes) int
	// Engine refines the label for database-like types.
	Engine func(Attributes) string
}

// ServiceLabel returns the engine-refined label, or the default one.
func (m Mapping) ServiceLabel(attrs Attributes) string {
	if m.Engine != nil {
		if label := m.Engine(attrs); label != "" {
			return label
		}
	}
	return m.Label
}

// Extract runs the endpoint and port extractors.
func (m Mapping) Extract(attrs Attributes) (string, int) {
	var endpoint string
	var port int
	if m.Endpoint != nil {
		endpoint = m.Endpoint(attrs)
	}
	if m.Port != nil {
		port = m.Port(attrs)
	}
	return endpoint, port
}

// Lookup returns the mapping of a resource type. The table is partial;
// unknown types are not an error.
func Lookup(resourceType string) (Mapping, bool) {
	m, ok := typeTable[resourceType]
	return m, ok
}

// SupportedTypes lists the mapped resource types in sorted order.
func SupportedTypes() []string {
	types := make([]string, 0, len(typeTable))
	for t := range typeTable {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

var typeTable = map[string]Mapping{
	// AWS
	"aws_db_instance": {
		Role:     RoleService,
		Label:    "rds",
		Endpoint: hostOf("address", "endpoint"),
		Port:     portOf("port"),
		Engine:   engineOf("engine"),
	},
	"aws_rds_cluster": {
		Role:     RoleService,
		Label:    "aurora",
		Endpoint: firstOf("endpoint"),
		Port:     portOf("port"),
		Engine:   engineOf("engine"),
	},
	"aws_elasticache_cluster": {
		Role:     RoleService,
		Label:    "elasticache",
		Endpoint: firstOf("cache_nodes[0].address", "configuration_endpoint"),
		Port:     portOf("port", "cache_nodes[0].port"),
		Engine:   engineOf("engine"),
	},
	"aws_elasticache_replication_group": {
		Role:     RoleService,
		Label:    "redis",
		Endpoint: firstOf("primary_endpoint_address", "configuration_endpoint_address"),
		Port:     portOf("port"),
		Engine:   engineOf("engine"),
	},
	"aws_mq_broker": {
		Role:     RoleService,
		Label:    "mq",
		Endpoint: urlHost("instances[0].endpoints[0]"),
		Port:     urlPort("instances[0].endpoints[0]"),
		Engine:   engineOf("engine_type"),
	},
	"aws_lb": {
		Role:     RoleService,
		Label:    "load-balancer",
		Endpoint: firstOf("dns_name"),
	},
	"aws_alb": {
		Role:     RoleService,
		Label:    "load-balancer",
		Endpoint: firstOf("dns_name"),
	},
	"aws_instance": {
		Role:     RoleHost,
		Label:    "ec2",
		Endpoint: firstOf("public_ip", "private_ip", "public_dns"),
	},
	"aws_sqs_queue": {
		Role:     RoleService,
		Label:    "sqs",
		Endpoint: firstOf("url"),
	},
	"aws_opensearch_domain": {
		Role:     RoleService,
		Label:    "opensearch",
		Endpoint: firstOf("endpoint"),
		Port:     constPort(443),
	},
	"aws_elasticsearch_domain": {
		Role:     RoleService,
		Label:    "elasticsearch",
		Endpoint: firstOf("endpoint"),
		Port:     constPort(443),
	},
	"aws_msk_cluster": {
		Role:     RoleService,
		Label:    "kafka",
		Endpoint: brokerHost("bootstrap_brokers_tls", "bootstrap_brokers"),
		Port:     brokerPort("bootstrap_brokers_tls", "bootstrap_brokers"),
	},

	// Google Cloud
	"google_sql_database_instance": {
		Role:     RoleService,
		Label:    "cloudsql",
		Endpoint: firstOf("public_ip_address", "private_ip_address", "ip_address[0].ip_address"),
		Port:     cloudSQLPort,
		Engine:   engineOf("database_version"),
	},
	"google_redis_instance": {
		Role:     RoleService,
		Label:    "redis",
		Endpoint: firstOf("host"),
		Port:     portOf("port"),
	},
	"google_compute_instance": {
		Role:     RoleHost,
		Label:    "gce",
		Endpoint: firstOf("network_interface[0].access_config[0].nat_ip", "network_interface[0].network_ip"),
	},

	// Azure
	"azurerm_postgresql_flexible_server": {
		Role:     RoleService,
		Label:    "postgresql",
		Endpoint: firstOf("fqdn"),
		Port:     constPort(5432),
	},
	"azurerm_redis_cache": {
		Role:     RoleService,
		Label:    "redis",
		Endpoint: firstOf("hostname"),
		Port:     portOf("ssl_port", "port"),
	},
	"azurerm_linux_virtual_machine": {
		Role:     RoleHost,
		Label:    "azure-vm",
		Endpoint: firstOf("public_ip_address", "private_ip_address"),
	},

	// DigitalOcean
	"digitalocean_droplet": {
		Role:     RoleHost,
		Label:    "droplet",
		Endpoint: firstOf("ipv4_address", "ipv4_address_private"),
	},
	"digitalocean_database_cluster": {
		Role:     RoleService,
		Label:    "database",
		Endpoint: firstOf("host", "private_host"),
		Port:     portOf("port"),
		Engine:   engineOf("engine"),
	},
}

func firstOf(keys ...string) func(Attributes) string {
	return func(a Attributes) string {
		return a.FirstString(keys...)
	}
}

func portOf(keys ...string) func(Attributes) int {
	return func(a Attributes) int {
		for _, k := range keys {
			if n, ok := a.Int(k); ok {
				return n
			}
		}
		return 0
	}
}

func constPort(port int) func(Attributes) int {
	return func(Attributes) int { return port }
}

func engineOf(key string) func(Attributes) string {
	return func(a Attributes) string {
		engine, ok := a.String(key)
		if !ok {
			return ""
		}
		return NormalizeEngine(engine)
	}
}

// hostOf returns the first non-empty value with any ":port" suffix removed.
func hostOf(keys ...string) func(Attributes) string {
	return func(a Attributes) string {
		host, _ := splitHostPort(a.FirstString(keys...))
		return host
	}
}

// urlHost reads a URL such as "amqps://b-1.mq.aws.com:5671" and returns its host.
func urlHost(key string) func(Attributes) string {
	return func(a Attributes) string {
		host, _ := splitURL(a.FirstString(key))
		return host
	}
}

func urlPort(key string) func(Attributes) int {
	return func(a Attributes) int {
		_, port := splitURL(a.FirstString(key))
		return port
	}
}

func splitURL(raw string) (string, int) {
	if raw == "" {
		return "", 0
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return splitHostPort(raw)
	}
	port, _ := strconv.Atoi(u.Port())
	return u.Hostname(), port
}

// brokerHost takes the first entry of a comma-separated "host:port" list.
func brokerHost(keys ...string) func(Attributes) string {
	return func(a Attributes) string {
		host, _ := splitHostPort(firstBroker(a.FirstString(keys...)))
		return host
	}
}

func brokerPort(keys ...string) func(Attributes) int {
	return func(a Attributes) int {
		_, port := splitHostPort(firstBroker(a.FirstString(keys...)))
		return port
	}
}

func firstBroker(list string) string {
	first, _, _ := strings.Cut(list, ",")
	return strings.TrimSpace(first)
}

func splitHostPort(s string) (string, int) {
	if s == "" {
		return "", 0
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return s, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func cloudSQLPort(a Attributes) int {
	switch engineOf("database_version")(a) {
	case "postgresql":
		return 5432
	case "mysql":
		return 3306
	case "sqlserver":
		return 1433
	}
	return 0
}

// NormalizeEngine maps provider-specific engine names onto a small set of
// service labels. Unknown engines are lowercased and returned as is.
func NormalizeEngine(engine string) string {
	e := strings.ToLower(strings.TrimSpace(engine))
	switch {
	case e == "":
		return ""
	case strings.Contains(e, "postgres"), e == "pg":
		return "postgresql"
	case strings.Contains(e, "mysql"), e == "aurora":
		return "mysql"
	case strings.Contains(e, "mariadb"):
		return "mariadb"
	case strings.HasPrefix(e, "sqlserver"):
		return "sqlserver"
	case strings.HasPrefix(e, "oracle"):
		return "oracle"
	case strings.Contains(e, "redis"):
		return "redis"
	case strings.Contains(e, "valkey"):
		return "valkey"
	case strings.Contains(e, "memcached"):
		return "memcached"
	case strings.Contains(e, "mongo"):
		return "mongodb"
	case e == "activemq":
		return "activemq"
	case e == "rabbitmq":
		return "rabbitmq"
	case strings.Contains(e, "kafka"):
		return "kafka"
	}
	return e
}
