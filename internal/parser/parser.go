// Package parser converts control command arguments into domain types.
// Arguments arrive as quoted strings with doubled escape quotes; every
// parse method normalizes them before interpreting the values.
package parser

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/trailerlab/trailerd/internal/geo"
	"github.com/trailerlab/trailerd/internal/util"
	"github.com/trailerlab/trailerd/pkg/core"
)

// Parser holds static fields stamped onto parsed runs.
type Parser struct {
	logger           *slog.Logger
	extensionVersion string
}

// New creates a Parser. A nil logger falls back to slog.Default.
func New(logger *slog.Logger, extensionVersion string) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger, extensionVersion: extensionVersion}
}

func clean(s string) string {
	return util.FixEscapeQuotes(util.TrimQuotes(strings.TrimSpace(s)))
}

// ParseParamSet extracts the field name and value from a :PARAM:SET: command.
// Expected data: [name, value].
func (p *Parser) ParseParamSet(data []string) (field, value string, err error) {
	if len(data) < 2 {
		return "", "", fmt.Errorf("param set: expected 2 arguments, got %d", len(data))
	}
	field = clean(data[0])
	value = clean(data[1])
	if field == "" {
		return "", "", fmt.Errorf("param set: empty field name")
	}
	return field, value, nil
}

// ParseCoursePath parses a :COURSE:PATH: command into a course with
// waypoints. Expected data: [name, polylineJSON] with an optional third
// element marking the polyline as WGS84 lon/lat pairs, which are projected
// to a local planar frame.
func (p *Parser) ParseCoursePath(data []string) (*core.Course, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("course path: expected at least 2 arguments, got %d", len(data))
	}
	name := clean(data[0])
	if name == "" {
		return nil, fmt.Errorf("course path: empty course name")
	}

	waypoints, err := geo.ParsePolylineToCore(clean(data[1]))
	if err != nil {
		return nil, fmt.Errorf("course path %q: %w", name, err)
	}

	gps := false
	if len(data) > 2 {
		gps, err = strconv.ParseBool(clean(data[2]))
		if err != nil {
			return nil, fmt.Errorf("course path %q: invalid gps flag: %w", name, err)
		}
	}
	if gps {
		waypoints = geo.ProjectPolyline(waypoints)
	}

	p.logger.Debug("parsed course path", "name", name, "waypoints", len(waypoints), "gps", gps)
	return &core.Course{Name: name, Waypoints: waypoints, GPS: gps}, nil
}

// ParseCourseCircle parses a :COURSE:CIRCLE: command into an obstacle.
// Expected data: ["x,y,r"].
func (p *Parser) ParseCourseCircle(data []string) (core.Circle, error) {
	if len(data) < 1 {
		return core.Circle{}, fmt.Errorf("course circle: expected 1 argument, got 0")
	}
	circle, err := geo.CircleFromString(clean(data[0]))
	if err != nil {
		return core.Circle{}, fmt.Errorf("course circle: %w", err)
	}
	return circle, nil
}

// ParseRunStart parses a :RUN:START: command into a new run. Expected data:
// [name] with an optional tag as the second element. The start time and
// recorder version are stamped here.
func (p *Parser) ParseRunStart(data []string) (*core.Run, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("run start: expected at least 1 argument, got 0")
	}
	name := clean(data[0])
	if name == "" {
		return nil, fmt.Errorf("run start: empty run name")
	}

	tag := ""
	if len(data) > 1 {
		tag = clean(data[1])
	}

	run := &core.Run{
		Name:             name,
		Tag:              tag,
		ExtensionVersion: p.extensionVersion,
		StartTime:        time.Now(),
	}
	p.logger.Debug("parsed run start", "name", name, "tag", tag)
	return run, nil
}
