// Package config loads deskchat configuration from YAML.
//
// Files support ${VAR_NAME} environment expansion and duration strings:
//
//	gateway:
//	  ws_url: ws://localhost:8080/ws/chat
//	  http_url: http://localhost:8080
//	user:
//	  id: trader-1
//	  name: ${DESKCHAT_USER}
//	chat:
//	  history_limit: 50
//	stream:
//	  keepalive_interval: "30s"
//	  reconnect_base_delay: "1s"
//	  reconnect_max_delay: "30s"
//	  reconnect_growth: 2.0
//	  max_attempts_before_disable: 5
//	fallback:
//	  timeout: "5m"
//	logging:
//	  level: info
//	  format: text
package config
