package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/framed-net/framed"
)

const msgTypeEcho = 42

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	// Echo: reply to every message with "payload | payload" under the same type.
	handler := framed.HandlerFunc(func(conn *framed.Conn) {
		defer conn.Close()
		for {
			msgType, text, err := conn.ReceiveString()
			if err != nil {
				return
			}
			if err := conn.SendString(msgType, text+" | "+text); err != nil {
				return
			}
		}
	})

	server := framed.NewServer("127.0.0.1:12345", handler,
		framed.ServerLoggerOption(framed.NewZerologLogger(log)))
	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("start server")
	}

	client, err := framed.Dial(server.Addr().String())
	if err != nil {
		log.Fatal().Err(err).Msg("dial server")
	}

	if err := client.SendString(msgTypeEcho, "Hello server!"); err != nil {
		log.Fatal().Err(err).Msg("send")
	}

	reply, err := client.ReceiveStringOfType(msgTypeEcho)
	if err != nil {
		log.Fatal().Err(err).Msg("receive")
	}
	log.Info().Str("reply", reply).Msg("echo received")
	_ = client.Close()

	// Keep serving until interrupted.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down server...")
	if err := server.Stop(); err != nil {
		log.Error().Err(err).Msg("stop server")
	}
}
