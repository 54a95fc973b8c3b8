// callsim streams a WAV file to the speech service over its websocket
// ingress, simulating one telephony call: start, unmute, 100ms PCM chunks,
// then close. Server pushes (transcript-ready and playback-stop events) are
// printed as they arrive.
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

// WAV header is 44 bytes for standard PCM files.
const wavHeaderSize = 44

// At 8kHz 16-bit mono = 16000 bytes/second; 100ms chunks = 1600 bytes.
const chunkSize = 1600
const chunkIntervalMs = 100

type controlMessage struct {
	Type     string `json:"type"`
	CallID   string `json:"callId,omitempty"`
	ClientID string `json:"clientId,omitempty"`
	Playing  bool   `json:"playing,omitempty"`
}

type serverMessage struct {
	Type   string `json:"type"`
	CallID string `json:"callId,omitempty"`
	Text   string `json:"text,omitempty"`
	Via    string `json:"via,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	Error  string `json:"error,omitempty"`
}

func main() {
	audioFile := flag.String("audio", "testdata/sample-8khz.wav", "Path to WAV file (8kHz 16-bit mono)")
	serverURL := flag.String("server", "ws://localhost:8080/v1/call", "Websocket ingress URL")
	callID := flag.String("call", "sim-"+time.Now().Format("150405"), "Call ID")
	clientID := flag.String("client", "client-demo", "Client ID")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)

	if audioFormat != 1 { // PCM
		log.Fatal("Only PCM format supported")
	}
	if sampleRate != 8000 {
		log.Printf("Warning: Sample rate is %d Hz, expected 8000 Hz", sampleRate)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("Connected to %s", *serverURL)

	// Print server pushes until the connection closes.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg serverMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Printf("Unparseable server message: %s", data)
				continue
			}
			switch msg.Type {
			case "started":
				log.Printf("Call started: callId=%s prompt=%q", msg.CallID, msg.Prompt)
			case "utteranceReady":
				log.Printf("Utterance ready (%s): %s", msg.Via, msg.Text)
			case "stopPlayback":
				log.Printf("Barge-in: server requested playback stop")
			case "closed":
				log.Printf("Call closed: callId=%s", msg.CallID)
				return
			case "error":
				log.Printf("Server error: %s", msg.Error)
			default:
				log.Printf("Server message: %s", data)
			}
		}
	}()

	send := func(ctrl controlMessage) {
		if err := conn.WriteJSON(ctrl); err != nil {
			log.Fatalf("Failed to send %s: %v", ctrl.Type, err)
		}
	}

	send(controlMessage{Type: "start", CallID: *callID, ClientID: *clientID})
	send(controlMessage{Type: "unmute"})

	log.Printf("Streaming audio: callId=%s clientId=%s", *callID, *clientID)

	audioChunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := f.Read(audioChunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}

		chunkNum++
		totalBytes += int64(n)

		if err := conn.WriteMessage(websocket.BinaryMessage, audioChunk[:n]); err != nil {
			log.Fatalf("Failed to send frame: %v", err)
		}

		if chunkNum%10 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
		}

		// Simulate real-time streaming.
		time.Sleep(chunkIntervalMs * time.Millisecond)
	}

	elapsed := time.Since(startTime)
	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, elapsed)

	// Let trailing transcripts arrive before closing.
	time.Sleep(2 * time.Second)
	send(controlMessage{Type: "close"})

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Println("Timed out waiting for close ack")
	}
}
