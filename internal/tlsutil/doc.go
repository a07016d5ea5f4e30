// Package tlsutil 提供图像后端 HTTP 客户端的默认配置：
// TLS 1.2+、仅 AEAD 密码套件、按参考图并发下载调优的连接池，超时交由请求 context 控制。
package tlsutil
