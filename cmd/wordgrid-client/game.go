package main

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"net/http"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"go.uber.org/zap"

	"github.com/bodul/wordgrid/internal/client"
	"github.com/bodul/wordgrid/internal/protocol"
	"github.com/bodul/wordgrid/internal/view"
)

const (
	screenW, screenH = 1280, 800
	hudH             = 40

	// clickZoom shows cells at their world size, well inside the text tier.
	clickZoom   = 1.0
	animSeconds = 0.45
	statusTicks = 240
	outboxSize  = 64
)

type fetchedImage struct {
	path string
	img  image.Image
	err  error
}

// Game is the ebiten game: it feeds input to the board and draws the
// renderer's output.
type Game struct {
	server string
	conn   *client.Conn
	board  *client.Board
	logger *zap.Logger

	camera   *view.Camera
	renderer *view.Renderer
	painter  *painter
	pointer  view.Pointer

	outbox chan any
	stop   chan struct{}
	images chan fetchedImage

	tick        uint64
	chars       []rune
	lastCursor  int
	status      string
	statusUntil uint64
	offline     bool
	w, h        int

	image     *ebiten.Image
	imagePath string
	fetching  bool
}

func newGame(server string, conn *client.Conn, board *client.Board, logger *zap.Logger) *Game {
	g := &Game{
		server:     server,
		conn:       conn,
		board:      board,
		logger:     logger,
		renderer:   view.NewRenderer(),
		painter:    newPainter(),
		outbox:     make(chan any, outboxSize),
		stop:       make(chan struct{}),
		images:     make(chan fetchedImage, 1),
		lastCursor: -1,
		w:          screenW,
		h:          screenH,
	}
	g.camera = view.NewCamera(g.viewport(), board.Width(), board.Rows())
	go g.writer()
	g.enqueue(board.RegisterMessage())
	return g
}

func (g *Game) close() {
	close(g.stop)
}

func (g *Game) viewport() view.Rect {
	return view.Rect{X: 0, Y: hudH, Width: float64(g.w), Height: float64(g.h - hudH)}
}

// writer sends queued messages so the game loop never blocks on the network.
func (g *Game) writer() {
	for {
		select {
		case msg := <-g.outbox:
			if err := g.conn.Send(msg); err != nil {
				g.logger.Warn("send failed", zap.Error(err))
				return
			}
		case <-g.stop:
			return
		}
	}
}

func (g *Game) enqueue(msg any) {
	select {
	case g.outbox <- msg:
	default:
		g.logger.Warn("outbox full, dropping message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (g *Game) setStatus(s string) {
	g.status = s
	g.statusUntil = g.tick + statusTicks
}

func (g *Game) Update() error {
	g.tick++
	g.drainEvents()
	g.pollImage()
	g.handleKeys()
	g.handleMouse()
	g.camera.Update(float32(1 / float64(ebiten.TPS())))

	if c := g.board.Cursor(); c != g.lastCursor && c < g.board.Capacity() {
		g.lastCursor = c
		g.enqueue(g.board.CursorMessage())
	}
	if e := g.board.TakeError(); e != "" {
		g.setStatus(e)
	}
	return nil
}

func (g *Game) drainEvents() {
	if g.offline {
		return
	}
	for {
		select {
		case env, ok := <-g.conn.Events():
			if !ok {
				g.offline = true
				msg := "Disconnected from server"
				if err := g.conn.Err(); err != nil {
					msg += ": " + err.Error()
				}
				g.setStatus(msg)
				return
			}
			if err := g.board.Apply(env); err != nil {
				g.logger.Debug("ignoring event", zap.String("type", env.Type), zap.Error(err))
				continue
			}
			if env.Type == protocol.TypeInitialState {
				g.camera = view.NewCamera(g.viewport(), g.board.Width(), g.board.Rows())
			}
		default:
			return
		}
	}
}

func (g *Game) handleKeys() {
	ctrl := ebiten.IsKeyPressed(ebiten.KeyControl) || ebiten.IsKeyPressed(ebiten.KeyMeta)
	if ctrl {
		if inpututil.IsKeyJustPressed(ebiten.KeyV) {
			g.paste()
		}
		if inpututil.IsKeyJustPressed(ebiten.KeyG) {
			g.enqueue(protocol.RequestGenerate{Type: protocol.TypeRequestGenerate})
			g.setStatus("Generation requested")
		}
	} else {
		g.chars = ebiten.AppendInputChars(g.chars[:0])
		for _, r := range g.chars {
			g.board.Type(r)
		}
	}

	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		g.commit(false)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) || inpututil.IsKeyJustPressed(ebiten.KeyNumpadEnter) {
		g.commit(true)
	}
	if repeating(ebiten.KeyBackspace) {
		g.board.Backspace()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyHome) {
		pos := min(g.board.Cursor(), g.board.Capacity()-1)
		g.camera.AnimateTo(pos, math.Max(g.camera.Zoom, clickZoom), animSeconds)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		g.camera.Fit()
	}
}

// repeating reports a key press plus auto-repeat while held.
func repeating(key ebiten.Key) bool {
	d := inpututil.KeyPressDuration(key)
	return d == 1 || (d >= 30 && d%3 == 0)
}

func (g *Game) commit(endGroup bool) {
	if msg := g.board.Commit(endGroup); msg != nil {
		g.enqueue(*msg)
	}
}

func (g *Game) paste() {
	text, err := clipboard.ReadAll()
	if err != nil {
		g.setStatus("Clipboard unavailable")
		g.logger.Debug("read clipboard", zap.Error(err))
		return
	}
	if msg := g.board.Paste(text); msg != nil {
		g.enqueue(*msg)
	}
}

func (g *Game) handleMouse() {
	mx, my := ebiten.CursorPosition()
	x, y := float64(mx), float64(my)

	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) && y >= hudH {
		g.pointer.Press(x, y)
	}
	if g.pointer.Down() {
		if dx, dy, ok := g.pointer.Move(x, y); ok {
			g.camera.Pan(dx, dy)
		}
	}
	if inpututil.IsMouseButtonJustReleased(ebiten.MouseButtonLeft) && g.pointer.Release(x, y) {
		if pos, ok := g.camera.CellAt(x, y); ok {
			g.camera.AnimateTo(pos, math.Max(g.camera.Zoom, clickZoom), animSeconds)
		}
	}
	if _, wy := ebiten.Wheel(); wy != 0 {
		g.camera.ZoomAt(x, y, wy)
	}
}

// pollImage starts fetching a new current image and installs a finished one.
func (g *Game) pollImage() {
	select {
	case res := <-g.images:
		g.fetching = false
		if res.err != nil {
			g.logger.Warn("fetch image", zap.String("path", res.path), zap.Error(res.err))
			g.imagePath = res.path // do not retry in a loop
			return
		}
		g.image = ebiten.NewImageFromImage(res.img)
		g.imagePath = res.path
	default:
	}

	path := g.board.CurrentImage()
	if path == "" || path == g.imagePath || g.fetching {
		return
	}
	g.fetching = true
	go func() {
		img, err := fetchImage(imageURL(g.server, path))
		g.images <- fetchedImage{path: path, img: img, err: err}
	}()
}

func imageURL(server, path string) string {
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	return strings.TrimSuffix(server, "/") + path
}

func fetchImage(url string) (image.Image, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	img, _, err := image.Decode(resp.Body)
	return img, err
}

func (g *Game) Draw(screen *ebiten.Image) {
	screen.Fill(backdrop)

	cursor := g.board.Cursor()
	if cursor >= g.board.Capacity() {
		cursor = -1
	}
	ops := g.renderer.Render(view.Frame{
		Camera:  g.camera,
		Source:  g.board,
		Cursor:  cursor,
		Buffer:  g.board.Buffer(),
		Remotes: g.board.Remotes(),
		Tick:    g.tick,
	})
	g.painter.draw(screen, ops)
	g.drawImage(screen)
	g.drawHUD(screen)
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	if outsideWidth != g.w || outsideHeight != g.h {
		g.w, g.h = outsideWidth, outsideHeight
		g.camera.SetViewport(g.viewport())
	}
	return outsideWidth, outsideHeight
}
