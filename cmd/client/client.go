package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"github.com/freqmon/pkg/monitor"
)

func main() {
	host := flag.String("addr", "localhost:8080", "Monitor server host:port")
	count := flag.Int("n", 0, "Stop after this many cycles (0 = until interrupted)")
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *host, Path: "/ws"}

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.Close()
	}()

	var msg struct {
		Type   string          `json:"type"`
		State  json.RawMessage `json:"state"`
		Update *monitor.Update `json:"update"`
	}
	fmt.Printf("%8s  %12s  %9s  %s\n", "cycle", "freq (MHz)", "out (V)", "applied")
	for seen := 0; *count == 0 || seen < *count; {
		msg.Update = nil
		if err := c.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "state":
			log.Printf("state: %s", msg.State)
		case "cycle":
			if u := msg.Update; u != nil {
				mark := ""
				if u.Applied {
					mark = "*"
				}
				fmt.Printf("%8d  %12g  %9.4f  %s\n", u.Cycle, u.FrequencyMHz, u.Volts, mark)
				seen++
			}
		}
	}
}
