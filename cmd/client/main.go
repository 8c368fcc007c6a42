package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/JYehhh/tessenger/pkg/client"
	"github.com/JYehhh/tessenger/pkg/protocol"
	"github.com/JYehhh/tessenger/pkg/transfer"
)

const commandPrompt = "Enter one of the following commands (/msgto, /activeuser, /creategroup, /joingroup, /groupmsg, /p2pvideo, /logout): "

func main() {
	serverAddr := flag.String("server", "localhost:12000", "Server address (host:port)")
	udpPort := flag.Int("udp-port", 0, "UDP port for receiving peer file transfers (0 picks a free port)")
	downloads := flag.String("downloads", ".", "Directory for received files")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	log.SetLevel(log.WarnLevel)
	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	// The UDP socket is shared by the receiver and any outgoing transfers.
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: *udpPort})
	if err != nil {
		log.Fatalf("Failed to bind UDP port %d: %v", *udpPort, err)
	}
	defer udpConn.Close()
	boundPort := udpConn.LocalAddr().(*net.UDPAddr).Port

	conn := client.NewConnection(*serverAddr)
	if err := conn.Connect(); err != nil {
		log.Fatalf("%v", err)
	}
	defer conn.Close()

	stdin := bufio.NewScanner(os.Stdin)
	username, ok := login(conn, stdin, boundPort)
	if !ok {
		return
	}
	fmt.Println("Welcome to Tessenger!")

	conn.Start()
	go printPushes(conn)

	receiver := transfer.NewReceiver(udpConn, *downloads, func(ev transfer.Event) {
		fmt.Printf("\nReceived %s from %s (%d bytes)\n%s", ev.Filename, ev.Sender, ev.Size, commandPrompt)
	})
	receiver.Start()
	defer receiver.Close()

	book := client.NewAddressBook()
	sender := transfer.NewSender(udpConn)

	for {
		fmt.Print(commandPrompt)
		if !stdin.Scan() {
			conn.Request(protocol.ReqLogout)
			return
		}
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			continue
		}

		if protocol.Keyword(line) == protocol.ReqP2PVideo {
			sendVideo(conn, book, sender, username, line)
			continue
		}

		resp, err := conn.Request(line)
		if err != nil {
			log.Fatalf("Connection lost: %v", err)
		}
		if resp.ClientMessage != "" {
			fmt.Println(resp.ClientMessage)
		}

		switch resp.Command {
		case protocol.CmdActiveUser:
			book.Update(resp.Data)
		case protocol.CmdLogout:
			if resp.StatusCode == protocol.StatusSuccess {
				return
			}
		}
	}
}

// login walks the two-step handshake, re-prompting on bad input, until the
// server accepts or blocks the account.
func login(conn *client.Connection, stdin *bufio.Scanner, udpPort int) (string, bool) {
	for {
		fmt.Print("Username: ")
		if !stdin.Scan() {
			return "", false
		}
		username := strings.TrimSpace(stdin.Text())
		if username == "" {
			continue
		}

		fmt.Print("Password: ")
		if !stdin.Scan() {
			return "", false
		}
		password := strings.TrimSpace(stdin.Text())

		resp, err := conn.Login(username, password, fmt.Sprint(udpPort))
		if err != nil {
			log.Fatalf("%v", err)
		}

		switch resp.StatusCode {
		case protocol.StatusSuccess:
			return username, true
		case protocol.StatusForbidden:
			fmt.Println(resp.ClientMessage)
			return "", false
		default:
			fmt.Println(resp.ClientMessage)
		}
	}
}

// printPushes renders server-initiated messages as they arrive.
func printPushes(conn *client.Connection) {
	for push := range conn.Pushes() {
		fmt.Printf("\n%s\n%s", push.ClientMessage, commandPrompt)
	}
}

// sendVideo handles "/p2pvideo <user> <filename>" locally: the file goes
// straight to the peer's UDP socket, the server only supplies the address.
func sendVideo(conn *client.Connection, book *client.AddressBook, sender *transfer.Sender, username, line string) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		fmt.Println("Error: Invalid command format. Usage: /p2pvideo USERNAME FILENAME")
		return
	}
	target, path := fields[1], fields[2]

	addr, err := book.Resolve(target)
	if err != nil {
		// Refresh presence once before giving up.
		resp, rerr := conn.Request(protocol.ReqActiveUser)
		if rerr != nil {
			log.Fatalf("Connection lost: %v", rerr)
		}
		book.Update(resp.Data)
		if addr, err = book.Resolve(target); err != nil {
			fmt.Printf("Error: %s is offline or unknown.\n", target)
			return
		}
	}

	dest, err := net.ResolveUDPAddr("udp", net.JoinHostPort(addr.IP, addr.UDPPort))
	if err != nil {
		fmt.Printf("Error: bad peer address for %s: %v\n", target, err)
		return
	}

	sent, err := sender.SendFile(path, username, dest)
	if err != nil {
		fmt.Printf("Error: failed to send %s: %v\n", path, err)
		return
	}
	fmt.Printf("%s has been uploaded (%d bytes).\n", path, sent)
}
