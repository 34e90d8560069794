// Command ws_bridge exposes a stdio ACP agent over a WebSocket. Each
// connection spawns its own agent subprocess; newline-delimited JSON-RPC
// flows between the socket and the child's stdin/stdout.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os/exec"
	"strings"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type frame struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	command := flag.String("command", "vigil --acp", "agent command to bridge")
	flag.Parse()

	parts := strings.Fields(*command)
	if len(parts) == 0 {
		log.Fatal("empty -command")
	}

	http.HandleFunc("/ws", handleWS(parts))
	log.Printf("WebSocket bridge on ws://%s/ws -> %s", *addr, *command)
	log.Fatal(http.ListenAndServe(*addr, nil))
}

func handleWS(cmdArgs []string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}
		defer conn.Close()

		cmd := exec.Command(cmdArgs[0], cmdArgs[1:]...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			log.Println("stdin pipe error:", err)
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			log.Println("stdout pipe error:", err)
			return
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			log.Println("stderr pipe error:", err)
			return
		}
		if err := cmd.Start(); err != nil {
			log.Println("agent start error:", err)
			return
		}
		defer cmd.Process.Kill()
		defer cmd.Wait()

		writeFrame := func(kind, line string) error {
			data, err := json.Marshal(frame{Type: kind, Data: line})
			if err != nil {
				return err
			}
			return conn.WriteMessage(websocket.TextMessage, data)
		}

		// Agent stdout and stderr go to the socket as tagged frames.
		go pipeLines(stdout, func(line string) error { return writeFrame("stdout", line) })
		go pipeLines(stderr, func(line string) error { return writeFrame("stderr", line) })

		// Socket messages become agent stdin, one JSON-RPC message per line.
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				log.Println("ws read error:", err)
				return
			}
			if _, err := stdin.Write(append(msg, '\n')); err != nil {
				log.Println("stdin write error:", err)
				return
			}
		}
	}
}

func pipeLines(r interface{ Read([]byte) (int, error) }, write func(string) error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := write(scanner.Text()); err != nil {
			log.Println("ws write error:", err)
			return
		}
	}
}
