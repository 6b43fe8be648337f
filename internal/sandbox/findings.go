package sandbox

import "strings"

// findingsFor returns the canned results for a scan type. Targets containing
// "clean" produce no findings.
func findingsFor(scanType, target string) []map[string]any {
	if strings.Contains(strings.ToLower(target), "clean") {
		return []map[string]any{}
	}
	switch strings.ToLower(scanType) {
	case "wordpress":
		return []map[string]any{
			{
				"title":              "Outdated WordPress core",
				"severity":           "high",
				"description":        "The installed WordPress version no longer receives security updates.",
				"affected_component": "wp-core",
				"recommendation":     "Upgrade WordPress to the latest release.",
				"cvss":               7.5,
				"details":            map[string]any{"version": "5.8.1"},
			},
			{
				"title":              "XML-RPC interface enabled",
				"severity":           "medium",
				"description":        "xmlrpc.php accepts requests and can be abused for brute force amplification.",
				"affected_component": "/xmlrpc.php",
				"recommendation":     "Disable XML-RPC if it is not required.",
			},
			{
				"title":              "User enumeration via REST API",
				"severity":           "medium",
				"description":        "/wp-json/wp/v2/users lists author accounts.",
				"affected_component": "/wp-json/wp/v2/users",
				"recommendation":     "Restrict the users endpoint to authenticated requests.",
			},
			{
				"title":       "readme.html exposes version",
				"severity":    "info",
				"description": "The default readme file is publicly reachable.",
			},
		}
	case "ssl":
		return []map[string]any{
			{
				"title":              "TLS 1.0 supported",
				"severity":           "high",
				"description":        "The server negotiates the deprecated TLS 1.0 protocol.",
				"affected_component": "tls",
				"recommendation":     "Disable TLS 1.0 and 1.1.",
				"cve":                "CVE-2011-3389",
				"cvss":               "5.9",
			},
			{
				"title":              "Weak cipher suites",
				"severity":           "medium",
				"description":        "CBC-mode cipher suites with SHA1 are offered.",
				"affected_component": "tls",
				"recommendation":     "Prefer AEAD cipher suites.",
			},
			{
				"title":          "Certificate expires soon",
				"severity":       "low",
				"description":    "The leaf certificate expires in less than 30 days.",
				"recommendation": "Renew the certificate.",
			},
		}
	case "whois":
		return []map[string]any{
			{
				"title":       "Registrar information",
				"severity":    "info",
				"description": "WHOIS data is public and lists the registrar contact.",
				"details":     map[string]any{"registrar": "Example Registrar, Inc."},
			},
		}
	default:
		return []map[string]any{
			{
				"title":              "Missing security headers",
				"severity":           "low",
				"description":        "Content-Security-Policy and X-Frame-Options are not set.",
				"affected_component": "/",
				"recommendation":     "Add the missing response headers.",
			},
			{
				"title":       "Server banner disclosed",
				"severity":    "info",
				"description": "The Server header reveals the web server version.",
			},
		}
	}
}
