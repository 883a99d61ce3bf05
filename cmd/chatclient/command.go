package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type commandKind int

const (
	cmdNone commandKind = iota
	cmdInvalid
	cmdSay
	cmdRate
	cmdFeedback
	cmdTicket
	cmdEscalate
	cmdRetry
	cmdReset
	cmdHelp
	cmdQuit
)

const helpText = `commands:
  /rate <0-5> [messageId]              rate the last (or given) answer
  /feedback <score> [comment]          send the closing survey and start over
  /ticket <email> <subject> [details]  file a ticket with the conversation
  /escalate <email> <subject>          hand off to staff after an error
  /retry                               reconnect after giving up
  /reset                               end this conversation
  /quit`

type command struct {
	kind      commandKind
	text      string
	messageID string
	rating    float64
	score     int
	email     string
	subject   string
	err       error
}

func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{kind: cmdNone}
	}
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdSay, text: line}
	}

	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	rest := func(n int) string {
		if len(args) <= n {
			return ""
		}
		return strings.Join(args[n:], " ")
	}

	switch name {
	case "/quit", "/exit":
		return command{kind: cmdQuit}
	case "/help":
		return command{kind: cmdHelp}
	case "/retry":
		return command{kind: cmdRetry}
	case "/reset":
		return command{kind: cmdReset}
	case "/rate":
		if len(args) == 0 {
			return invalid("usage: /rate <0-5> [messageId]")
		}
		rating, err := strconv.ParseFloat(args[0], 64)
		if err != nil || rating < 0 || rating > 5 {
			return invalid("rating must be a number between 0 and 5")
		}
		return command{kind: cmdRate, rating: rating, messageID: rest(1)}
	case "/feedback":
		if len(args) == 0 {
			return invalid("usage: /feedback <score> [comment]")
		}
		score, err := strconv.Atoi(args[0])
		if err != nil {
			return invalid("score must be a whole number")
		}
		return command{kind: cmdFeedback, score: score, text: rest(1)}
	case "/ticket", "/escalate":
		if len(args) < 2 {
			return invalid(fmt.Sprintf("usage: %s <email> <subject> [details]", name))
		}
		kind := cmdTicket
		if name == "/escalate" {
			kind = cmdEscalate
		}
		return command{kind: kind, email: args[0], subject: args[1], text: rest(2)}
	}
	return invalid("unknown command " + name + ", try /help")
}

func invalid(msg string) command {
	return command{kind: cmdInvalid, err: errors.New(msg)}
}
