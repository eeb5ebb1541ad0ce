// Package webin drives the external sequence validation/submission tool
// (ENA Webin-CLI): it assembles the invocation, runs it as a child process and
// classifies its output.
package webin

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects the phase the tool runs in.
type Mode string

const (
	ModeValidate Mode = "validate"
	ModeSubmit   Mode = "submit"
)

// ErrProxyFormat is returned by SetProxy for a proxy without a port.
var ErrProxyFormat = errors.New("webin: proxy format should be host:port")

const redacted = "****"

// Proxy is an HTTPS proxy passed to the JVM.
type Proxy struct {
	Host string
	Port string
}

// ParseProxy parses "host:port".
func ParseProxy(raw string) (Proxy, error) {
	host, port, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || host == "" || port == "" {
		return Proxy{}, fmt.Errorf("%w: got %q", ErrProxyFormat, raw)
	}
	return Proxy{Host: host, Port: port}, nil
}

// Command is a typed invocation of the tool. Render turns it into argv.
type Command struct {
	Java       string // java executable, "java" when empty
	Jar        string
	Manifest   string
	User       string
	Password   string
	CenterName string
	InputDir   string
	OutputDir  string // defaults to InputDir
	Test       bool   // run against the test server
	Mode       Mode
	Proxy      *Proxy
}

// SetProxy configures the proxy from "host:port". An empty string clears it.
// A malformed value leaves the command without proxy and returns
// ErrProxyFormat so the caller can warn and carry on.
func (c *Command) SetProxy(raw string) error {
	c.Proxy = nil
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	p, err := ParseProxy(raw)
	if err != nil {
		return err
	}
	c.Proxy = &p
	return nil
}

// WithMode returns a copy of c running in mode m.
func (c Command) WithMode(m Mode) Command {
	c.Mode = m
	return c
}

// Render returns argv. JVM proxy properties come right after the java
// executable, before -jar.
func (c Command) Render() []string {
	java := c.Java
	if java == "" {
		java = "java"
	}
	out := c.OutputDir
	if out == "" {
		out = c.InputDir
	}

	args := []string{java}
	if c.Proxy != nil {
		args = append(args,
			"-DproxySet=true",
			"-Dhttps.proxyHost="+c.Proxy.Host,
			"-Dhttps.proxyPort="+c.Proxy.Port,
		)
	}
	args = append(args,
		"-jar", c.Jar,
		"-context", "sequence",
		"-manifest", c.Manifest,
		"-userName", c.User,
		"-password", c.Password,
		"-centerName", c.CenterName,
		"-inputDir", c.InputDir,
		"-outputDir", out,
	)
	if c.Test {
		args = append(args, "-test")
	}
	if c.Mode != "" {
		args = append(args, "-"+string(c.Mode))
	}
	return args
}

// Redacted renders the command line for logs with the password masked.
func (c Command) Redacted() string {
	args := c.Render()
	for i := range args {
		if i > 0 && args[i-1] == "-password" {
			args[i] = redacted
		}
	}
	return strings.Join(args, " ")
}
