package main

import (
	"sync"

	"github.com/eiannone/keyboard"
)

// Singleton buffered channel and one reader goroutine, so repeated calls
// never open the keyboard twice and key events survive phase changes.
var (
	keyCh     chan rune
	startOnce sync.Once
)

// startKeyEvents returns a channel emitting single-key runes read
// without Enter. If the keyboard cannot be opened (no TTY), the returned
// channel is inert and the service runs headless.
func startKeyEvents() chan rune {
	startOnce.Do(func() {
		keyCh = make(chan rune, 64)
		if err := keyboard.Open(); err != nil {
			return
		}
		go func() {
			defer keyboard.Close()
			for {
				char, key, err := keyboard.GetKey()
				if err != nil {
					close(keyCh)
					return
				}
				switch {
				case key == keyboard.KeyEsc || key == keyboard.KeyCtrlC:
					select {
					case keyCh <- 27:
					default:
					}
				case key == 0:
					// Drop events when nobody is consuming rather than
					// blocking the reader.
					select {
					case keyCh <- char:
					default:
					}
				}
			}
		}()
	})
	if keyCh == nil {
		keyCh = make(chan rune, 64)
	}
	return keyCh
}
